package catalog

import "context"

type ProcedureCodeRepository interface {
	Upsert(ctx context.Context, pc *ProcedureCode) error
	GetByCode(ctx context.Context, code string) (*ProcedureCode, error)
	List(ctx context.Context, category string, limit, offset int) ([]*ProcedureCode, int, error)
	ListAll(ctx context.Context) ([]*ProcedureCode, error)
}
