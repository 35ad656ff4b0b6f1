package payer

import "context"

type PolicyRepository interface {
	Upsert(ctx context.Context, p *Policy) error
	GetByCategory(ctx context.Context, category string) (*Policy, error)
	ListAll(ctx context.Context) ([]*Policy, error)
}
