package analytics

import (
	"context"
	"time"

	"github.com/rcm/rcm/internal/domain/claims"
	"github.com/rcm/rcm/pkg/money"
)

// LedgerSource provides the claim snapshots the aggregator reads. The
// claims repository satisfies it.
type LedgerSource interface {
	ListOutstanding(ctx context.Context) ([]*claims.Claim, error)
	ListAll(ctx context.Context) ([]*claims.Claim, error)
}

// PaymentSource provides posted payments for revenue reporting. The
// payments repository satisfies it.
type PaymentSource interface {
	ListInWindow(ctx context.Context, start, end time.Time) ([]*claims.Payment, error)
}

type Service struct {
	ledger   LedgerSource
	payments PaymentSource
}

func NewService(ledger LedgerSource, payments PaymentSource) *Service {
	return &Service{ledger: ledger, payments: payments}
}

func (s *Service) Aging(ctx context.Context, asOf time.Time) ([4]AgingBucket, error) {
	snapshot, err := s.ledger.ListOutstanding(ctx)
	if err != nil {
		return [4]AgingBucket{}, err
	}
	return AgingBuckets(snapshot, asOf), nil
}

func (s *Service) KPIs(ctx context.Context, asOf time.Time) (KPIs, error) {
	snapshot, err := s.ledger.ListAll(ctx)
	if err != nil {
		return KPIs{}, err
	}
	return ComputeKPIs(snapshot, asOf), nil
}

func (s *Service) Revenue(ctx context.Context, start, end time.Time) (money.Cents, error) {
	payments, err := s.payments.ListInWindow(ctx, start, end)
	if err != nil {
		return 0, err
	}
	return RevenueInWindow(payments, start, end), nil
}
