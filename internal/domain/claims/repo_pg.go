package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcm/rcm/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

const claimCols = `id, claim_number, patient_id, date_of_service, payer_category, status,
	gross_cents, contractual_allowance_cents, discount_cents, net_cents,
	patient_responsibility_cents, insurance_payment_cents, paid_cents, balance_cents,
	denial_code, denial_reason, prior_authorization_number, eligibility_verified,
	appeal_of_claim_id, version_id, created_at, updated_at`

const lineItemCols = `id, claim_id, procedure_code, description, quantity, unit_price_cents, total_cents, position`

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewClaimRepoPG(pool *pgxpool.Pool) Repository {
	return &claimRepoPG{pool: pool}
}

func (r *claimRepoPG) conn(ctx context.Context) queryable { return conn(ctx, r.pool) }

func (r *claimRepoPG) scan(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.PatientID, &c.DateOfService, &c.PayerCategory, &c.Status,
		&c.GrossCents, &c.ContractualAllowanceCents, &c.DiscountCents, &c.NetCents,
		&c.PatientResponsibilityCents, &c.InsurancePaymentCents, &c.PaidCents, &c.BalanceCents,
		&c.DenialCode, &c.DenialReason, &c.PriorAuthorizationNumber, &c.EligibilityVerified,
		&c.AppealOfClaimID, &c.VersionID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	q := r.conn(ctx)

	// Claim numbers come from a per-schema sequence so every tenant has
	// its own monotonically increasing series.
	if err := q.QueryRow(ctx, `SELECT nextval('claim_number_seq')`).Scan(&c.ClaimNumber); err != nil {
		return fmt.Errorf("assign claim number: %w", err)
	}

	_, err := q.Exec(ctx, `
		INSERT INTO claim (id, claim_number, patient_id, date_of_service, payer_category, status,
			gross_cents, contractual_allowance_cents, discount_cents, net_cents,
			patient_responsibility_cents, insurance_payment_cents, paid_cents, balance_cents,
			denial_code, denial_reason, prior_authorization_number, eligibility_verified,
			appeal_of_claim_id, version_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		c.ID, c.ClaimNumber, c.PatientID, c.DateOfService, c.PayerCategory, c.Status,
		c.GrossCents, c.ContractualAllowanceCents, c.DiscountCents, c.NetCents,
		c.PatientResponsibilityCents, c.InsurancePaymentCents, c.PaidCents, c.BalanceCents,
		c.DenialCode, c.DenialReason, c.PriorAuthorizationNumber, c.EligibilityVerified,
		c.AppealOfClaimID, c.VersionID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}

	for _, li := range c.LineItems {
		_, err := q.Exec(ctx, `
			INSERT INTO claim_line_item (id, claim_id, procedure_code, description, quantity, unit_price_cents, total_cents, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			li.ID, li.ClaimID, li.ProcedureCode, li.Description, li.Quantity, li.UnitPriceCents, li.TotalCents, li.Position)
		if err != nil {
			return fmt.Errorf("insert line item %d: %w", li.Position, err)
		}
	}
	return nil
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claim WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, Errf(KindNotFound, "claim %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadLineItems(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *claimRepoPG) loadLineItems(ctx context.Context, c *Claim) error {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineItemCols+` FROM claim_line_item WHERE claim_id = $1 ORDER BY position`, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.ClaimID, &li.ProcedureCode, &li.Description,
			&li.Quantity, &li.UnitPriceCents, &li.TotalCents, &li.Position); err != nil {
			return err
		}
		c.LineItems = append(c.LineItems, li)
	}
	return rows.Err()
}

func (r *claimRepoPG) UpdateWithVersion(ctx context.Context, c *Claim, expectedVersion int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim SET
			status = $1, paid_cents = $2, balance_cents = $3,
			denial_code = $4, denial_reason = $5, eligibility_verified = $6,
			appeal_of_claim_id = $7, version_id = $8, updated_at = $9
		WHERE id = $10 AND version_id = $11`,
		c.Status, c.PaidCents, c.BalanceCents,
		c.DenialCode, c.DenialReason, c.EligibilityVerified,
		c.AppealOfClaimID, expectedVersion+1, time.Now().UTC(),
		c.ID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return Errf(KindVersionConflict, "claim %s was modified concurrently", c.ID)
	}
	c.VersionID = expectedVersion + 1
	return nil
}

func (r *claimRepoPG) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM claim_line_item WHERE claim_id = $1`, id); err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `DELETE FROM claim WHERE id = $1 AND status = $2`, id, StatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return Errf(KindNotFound, "draft claim %s not found", id)
	}
	return nil
}

func (r *claimRepoPG) List(ctx context.Context, f QueryFilter, limit, offset int) ([]*Claim, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		args = append(args, v)
		where += fmt.Sprintf(clause, n)
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}
	if f.PayerCategory != "" {
		add(` AND payer_category = $%d`, f.PayerCategory)
	}
	if f.PatientID != uuid.Nil {
		add(` AND patient_id = $%d`, f.PatientID)
	}
	if f.Outstanding {
		where += ` AND balance_cents > 0 AND status != 'paid'`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claim`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + claimCols + ` FROM claim` + where +
		fmt.Sprintf(` ORDER BY claim_number DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Claim
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *claimRepoPG) ListOutstanding(ctx context.Context) ([]*Claim, error) {
	return r.listWhere(ctx, ` WHERE balance_cents > 0 AND status != 'paid'`)
}

func (r *claimRepoPG) ListAll(ctx context.Context) ([]*Claim, error) {
	return r.listWhere(ctx, ``)
}

func (r *claimRepoPG) listWhere(ctx context.Context, where string) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+claimCols+` FROM claim`+where+` ORDER BY claim_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Claim
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type transitionRepoPG struct{ pool *pgxpool.Pool }

func NewTransitionRepoPG(pool *pgxpool.Pool) TransitionRepository {
	return &transitionRepoPG{pool: pool}
}

func (r *transitionRepoPG) conn(ctx context.Context) queryable { return conn(ctx, r.pool) }

func (r *transitionRepoPG) Append(ctx context.Context, t *Transition) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_transition (id, claim_id, from_status, to_status, event, actor, note, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.ClaimID, t.FromStatus, t.ToStatus, t.Event, t.Actor, t.Note, t.At)
	return err
}

func (r *transitionRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*Transition, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, from_status, to_status, event, actor, note, at
		FROM claim_transition WHERE claim_id = $1 ORDER BY at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.ClaimID, &t.FromStatus, &t.ToStatus,
			&t.Event, &t.Actor, &t.Note, &t.At); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) queryable { return conn(ctx, r.pool) }

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_payment (id, claim_id, amount_cents, method, reference, posted_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.ClaimID, p.AmountCents, p.Method, p.Reference, p.PostedAt)
	return err
}

func (r *paymentRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*Payment, error) {
	return r.list(ctx, ` WHERE claim_id = $1`, claimID)
}

func (r *paymentRepoPG) ListInWindow(ctx context.Context, start, end time.Time) ([]*Payment, error) {
	return r.list(ctx, ` WHERE posted_at >= $1 AND posted_at < $2`, start, end)
}

func (r *paymentRepoPG) list(ctx context.Context, where string, args ...interface{}) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, amount_cents, method, reference, posted_at
		FROM claim_payment`+where+` ORDER BY posted_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ClaimID, &p.AmountCents, &p.Method, &p.Reference, &p.PostedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
