package claims

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/domain/payer"
	"github.com/rcm/rcm/internal/platform/db"
	"github.com/rcm/rcm/pkg/money"
)

// PolicyLookup resolves a payer category to its policy, returning nil
// for unknown categories.
type PolicyLookup func(category string) *payer.Policy

// Service is the claim ledger. All claim mutations flow through it; each
// one serializes per claim under a keyed mutex, validates the requested
// state machine edge, and appends to the transition log before anything
// becomes visible.
type Service struct {
	repo         Repository
	transitions  TransitionRepository
	payments     PaymentRepository
	lookupCode   CatalogLookup
	lookupPolicy PolicyLookup

	// locks holds one mutex per claim seen by this process. Entries are
	// never evicted, so the map grows with the number of distinct claims
	// touched over the process lifetime, not with request volume.
	locks sync.Map // claim uuid -> *sync.Mutex
}

func NewService(repo Repository, transitions TransitionRepository, payments PaymentRepository,
	lookupCode CatalogLookup, lookupPolicy PolicyLookup) *Service {
	return &Service{
		repo:         repo,
		transitions:  transitions,
		payments:     payments,
		lookupCode:   lookupCode,
		lookupPolicy: lookupPolicy,
	}
}

func (s *Service) lock(id uuid.UUID) func() {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// inTx runs fn inside a database transaction when the context carries a
// pooled connection, and directly otherwise (in-memory repositories).
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, tx, err := db.WithTx(ctx)
	if err != nil {
		return fn(ctx)
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Create builds and inserts a draft claim. A build failure produces no
// claim at all.
func (s *Service) Create(ctx context.Context, in BuildInput, actor string) (*Claim, error) {
	c, err := BuildClaim(in, s.lookupCode, s.lookupPolicy(in.PayerCategory))
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		return s.transitions.Append(ctx, s.entry(c, c.Status, "created", actor, ""))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Query(ctx context.Context, f QueryFilter, limit, offset int) ([]*Claim, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) History(ctx context.Context, claimID uuid.UUID) ([]*Transition, error) {
	if _, err := s.repo.GetByID(ctx, claimID); err != nil {
		return nil, err
	}
	return s.transitions.ListByClaim(ctx, claimID)
}

func (s *Service) Payments(ctx context.Context, claimID uuid.UUID) ([]*Payment, error) {
	if _, err := s.repo.GetByID(ctx, claimID); err != nil {
		return nil, err
	}
	return s.payments.ListByClaim(ctx, claimID)
}

// Submit moves a draft claim to submitted. The benefit check must have
// come back verified first.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, actor string) (*Claim, error) {
	return s.transition(ctx, id, StatusSubmitted, "submit", actor, "", func(c *Claim) error {
		if !c.EligibilityVerified {
			return Errf(KindEligibilityNotVerified, "claim %d cannot be submitted before eligibility verification", c.ClaimNumber)
		}
		return nil
	})
}

// Accept records the payer's agreement to pay. Funds are not posted yet,
// so the balance does not move.
func (s *Service) Accept(ctx context.Context, id uuid.UUID, actor string) (*Claim, error) {
	return s.transition(ctx, id, StatusAccepted, "accept", actor, "", func(c *Claim) error {
		c.DenialCode = nil
		c.DenialReason = nil
		return nil
	})
}

// Deny records a payer denial with its adjustment reason code.
func (s *Service) Deny(ctx context.Context, id uuid.UUID, code, reason, actor string) (*Claim, error) {
	if code == "" {
		return nil, Errf(KindMissingDenialCode, "denial requires an adjustment reason code")
	}
	if !ValidDenialCode(code) {
		return nil, Errf(KindInvalidDenialCode, "denial code %q is not a CO-, PR- or OA- group code", code)
	}
	if reason == "" {
		reason = DenialCodeDescription(code)
	}
	return s.transition(ctx, id, StatusDenied, "deny", actor, code+": "+reason, func(c *Claim) error {
		c.DenialCode = &code
		c.DenialReason = &reason
		return nil
	})
}

// Appeal opens an appeal on a denied claim.
func (s *Service) Appeal(ctx context.Context, id uuid.UUID, notes, actor string) (*Claim, error) {
	return s.transition(ctx, id, StatusAppeal, "appeal", actor, notes, func(c *Claim) error {
		if c.DenialCode == nil {
			return Errf(KindMissingDenialCode, "claim %d has no denial code to appeal", c.ClaimNumber)
		}
		return nil
	})
}

// ResolveAppeal closes an appeal as accepted or denied.
func (s *Service) ResolveAppeal(ctx context.Context, id uuid.UUID, outcome Status, actor string) (*Claim, error) {
	if outcome != StatusAccepted && outcome != StatusDenied {
		return nil, Errf(KindInvalidStateTransition, "appeal outcome must be %s or %s, got %q", StatusAccepted, StatusDenied, outcome)
	}
	mutate := func(c *Claim) error {
		if outcome == StatusAccepted {
			c.DenialCode = nil
			c.DenialReason = nil
		}
		return nil
	}
	return s.transition(ctx, id, outcome, "resolve_appeal", actor, string(outcome), mutate)
}

// PostPayment applies a remittance to the claim. The amount must be
// positive and no greater than the outstanding balance; the claim moves
// to paid when the balance hits zero and partial-payment otherwise. A
// payment against a settled claim necessarily exceeds its zero balance,
// so it is classified as an overpayment rather than a state error.
func (s *Service) PostPayment(ctx context.Context, id uuid.UUID, amount money.Cents, method, reference, actor string) (*Claim, error) {
	if amount <= 0 {
		return nil, Errf(KindNegativeOrZeroAmount, "payment amount must be positive, got %s", amount)
	}

	unlock := s.lock(id)
	defer unlock()

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusPaid {
		return nil, Errf(KindOverpaymentRejected, "claim %d is settled, no balance remains", c.ClaimNumber)
	}
	if c.Status != StatusAccepted && c.Status != StatusPartialPayment && c.Status != StatusDenied {
		return nil, Errf(KindInvalidStateTransition, "cannot post payment to a %s claim", c.Status)
	}
	if amount > c.BalanceCents {
		return nil, Errf(KindOverpaymentRejected, "cannot post payment exceeding balance of %s", c.BalanceCents)
	}

	from := c.Status
	c.PaidCents += amount
	c.BalanceCents -= amount
	if c.BalanceCents == 0 {
		c.Status = StatusPaid
	} else {
		c.Status = StatusPartialPayment
	}

	payment := &Payment{
		ID:          uuid.New(),
		ClaimID:     c.ID,
		AmountCents: amount,
		Method:      method,
		Reference:   reference,
		PostedAt:    time.Now().UTC(),
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateWithVersion(ctx, c, c.VersionID); err != nil {
			return err
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			return err
		}
		t := s.entry(c, c.Status, "post_payment", actor, amount.String()+" via "+method)
		t.FromStatus = from
		return s.transitions.Append(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Resubmit opens a corrected claim for a denied one. The new claim is a
// fresh draft carrying the same lines and financial breakdown, with
// AppealOfClaimID pointing back at the original; the denied claim itself
// is left untouched so its history stays intact.
func (s *Service) Resubmit(ctx context.Context, id uuid.UUID, actor string) (*Claim, error) {
	unlock := s.lock(id)
	defer unlock()

	orig, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusDenied {
		return nil, Errf(KindInvalidStateTransition, "only denied claims can be resubmitted, claim is %s", orig.Status)
	}

	now := time.Now().UTC()
	c := &Claim{
		ID:                         uuid.New(),
		PatientID:                  orig.PatientID,
		DateOfService:              orig.DateOfService,
		PayerCategory:              orig.PayerCategory,
		Status:                     StatusDraft,
		GrossCents:                 orig.GrossCents,
		ContractualAllowanceCents:  orig.ContractualAllowanceCents,
		DiscountCents:              orig.DiscountCents,
		NetCents:                   orig.NetCents,
		PatientResponsibilityCents: orig.PatientResponsibilityCents,
		InsurancePaymentCents:      orig.InsurancePaymentCents,
		BalanceCents:               orig.NetCents,
		PriorAuthorizationNumber:   orig.PriorAuthorizationNumber,
		EligibilityVerified:        orig.EligibilityVerified,
		AppealOfClaimID:            &orig.ID,
		VersionID:                  1,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	for _, li := range orig.LineItems {
		li.ID = uuid.New()
		li.ClaimID = c.ID
		c.LineItems = append(c.LineItems, li)
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		note := fmt.Sprintf("resubmission of claim %d", orig.ClaimNumber)
		return s.transitions.Append(ctx, s.entry(c, StatusDraft, "created", actor, note))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RecordEligibility stores the result of an external benefit check on a
// draft claim.
func (s *Service) RecordEligibility(ctx context.Context, id uuid.UUID, verified bool, actor string) (*Claim, error) {
	unlock := s.lock(id)
	defer unlock()

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusDraft {
		return nil, Errf(KindInvalidStateTransition, "eligibility can only be recorded on a draft claim, not %s", c.Status)
	}
	c.EligibilityVerified = verified
	if err := s.repo.UpdateWithVersion(ctx, c, c.VersionID); err != nil {
		return nil, err
	}
	return c, nil
}

// DiscardDraft deletes a claim that was never submitted. Anything past
// draft is immutable history and can only move forward.
func (s *Service) DiscardDraft(ctx context.Context, id uuid.UUID) error {
	unlock := s.lock(id)
	defer unlock()

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != StatusDraft {
		return Errf(KindInvalidStateTransition, "only draft claims can be discarded, claim is %s", c.Status)
	}
	return s.repo.DeleteDraft(ctx, id)
}

// transition performs a generic guarded state change: load, check the
// edge, run the mutation, persist claim and log atomically. mutate runs
// before the write and may veto with a classified error; on any failure
// the stored claim is untouched.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, event, actor, note string, mutate func(*Claim) error) (*Claim, error) {
	unlock := s.lock(id)
	defer unlock()

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, to) {
		return nil, Errf(KindInvalidStateTransition, "cannot %s a %s claim", event, c.Status)
	}

	from := c.Status
	c.Status = to
	if mutate != nil {
		if err := mutate(c); err != nil {
			return nil, err
		}
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateWithVersion(ctx, c, c.VersionID); err != nil {
			return err
		}
		t := s.entry(c, to, event, actor, note)
		t.FromStatus = from
		return s.transitions.Append(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) entry(c *Claim, to Status, event, actor, note string) *Transition {
	return &Transition{
		ID:         uuid.New(),
		ClaimID:    c.ID,
		FromStatus: c.Status,
		ToStatus:   to,
		Event:      event,
		Actor:      actor,
		Note:       note,
		At:         time.Now().UTC(),
	}
}
