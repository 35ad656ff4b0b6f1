package payer

import (
	"context"

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

type policyRepoPG struct{ pool *pgxpool.Pool }

func NewPolicyRepoPG(pool *pgxpool.Pool) PolicyRepository {
	return &policyRepoPG{pool: pool}
}

func (r *policyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const policyCols = `category, contractual_adjustment_rate, coinsurance_rate, updated_at`

func (r *policyRepoPG) scan(row pgx.Row) (*Policy, error) {
	var p Policy
	err := row.Scan(&p.Category, &p.ContractualAdjustmentRate, &p.CoinsuranceRate, &p.UpdatedAt)
	return &p, err
}

func (r *policyRepoPG) Upsert(ctx context.Context, p *Policy) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payer_policy (category, contractual_adjustment_rate, coinsurance_rate)
		VALUES ($1,$2,$3)
		ON CONFLICT (category) DO UPDATE SET
			contractual_adjustment_rate = EXCLUDED.contractual_adjustment_rate,
			coinsurance_rate = EXCLUDED.coinsurance_rate,
			updated_at = NOW()`,
		p.Category, p.ContractualAdjustmentRate, p.CoinsuranceRate)
	return err
}

func (r *policyRepoPG) GetByCategory(ctx context.Context, category string) (*Policy, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+policyCols+` FROM payer_policy WHERE category = $1`, category)
	return r.scan(row)
}

func (r *policyRepoPG) ListAll(ctx context.Context) ([]*Policy, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+policyCols+` FROM payer_policy ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Policy
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
