package claims

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QueryFilter narrows List results. Zero values mean "no filter".
type QueryFilter struct {
	Status        Status
	PayerCategory string
	PatientID     uuid.UUID
	Outstanding   bool
}

// Repository persists claims and their line items. Create assigns the
// per-tenant claim number; UpdateWithVersion is the only mutation path
// and enforces optimistic concurrency on VersionID.
type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	UpdateWithVersion(ctx context.Context, c *Claim, expectedVersion int) error
	DeleteDraft(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f QueryFilter, limit, offset int) ([]*Claim, int, error)
	ListOutstanding(ctx context.Context) ([]*Claim, error)
	ListAll(ctx context.Context) ([]*Claim, error)
}

// TransitionRepository appends to and reads the per-claim status history.
type TransitionRepository interface {
	Append(ctx context.Context, t *Transition) error
	ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*Transition, error)
}

// PaymentRepository records posted remittances. ListInWindow selects by
// PostedAt over [start, end).
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*Payment, error)
	ListInWindow(ctx context.Context, start, end time.Time) ([]*Payment, error)
}
