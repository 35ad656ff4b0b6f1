package catalog

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

type procedureCodeRepoPG struct{ pool *pgxpool.Pool }

func NewProcedureCodeRepoPG(pool *pgxpool.Pool) ProcedureCodeRepository {
	return &procedureCodeRepoPG{pool: pool}
}

func (r *procedureCodeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const pcCols = `code, name, category, price_cents, diagnosis_code, grouping_code, created_at, updated_at`

func (r *procedureCodeRepoPG) scan(row pgx.Row) (*ProcedureCode, error) {
	var pc ProcedureCode
	err := row.Scan(&pc.Code, &pc.Name, &pc.Category, &pc.PriceCents,
		&pc.DiagnosisCode, &pc.GroupingCode, &pc.CreatedAt, &pc.UpdatedAt)
	return &pc, err
}

func (r *procedureCodeRepoPG) Upsert(ctx context.Context, pc *ProcedureCode) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO procedure_code (code, name, category, price_cents, diagnosis_code, grouping_code)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price_cents = EXCLUDED.price_cents,
			diagnosis_code = EXCLUDED.diagnosis_code,
			grouping_code = EXCLUDED.grouping_code,
			updated_at = NOW()`,
		pc.Code, pc.Name, pc.Category, pc.PriceCents, pc.DiagnosisCode, pc.GroupingCode)
	return err
}

func (r *procedureCodeRepoPG) GetByCode(ctx context.Context, code string) (*ProcedureCode, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+pcCols+` FROM procedure_code WHERE code = $1`, code)
	return r.scan(row)
}

func (r *procedureCodeRepoPG) List(ctx context.Context, category string, limit, offset int) ([]*ProcedureCode, int, error) {
	var (
		total int
		rows  pgx.Rows
		err   error
	)

	if category != "" {
		if err = r.conn(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM procedure_code WHERE category = $1`, category).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = r.conn(ctx).Query(ctx,
			`SELECT `+pcCols+` FROM procedure_code WHERE category = $1 ORDER BY code LIMIT $2 OFFSET $3`,
			category, limit, offset)
	} else {
		if err = r.conn(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM procedure_code`).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = r.conn(ctx).Query(ctx,
			`SELECT `+pcCols+` FROM procedure_code ORDER BY code LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ProcedureCode
	for rows.Next() {
		pc, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, pc)
	}
	return out, total, rows.Err()
}

func (r *procedureCodeRepoPG) ListAll(ctx context.Context) ([]*ProcedureCode, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+pcCols+` FROM procedure_code ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ProcedureCode
	for rows.Next() {
		pc, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
