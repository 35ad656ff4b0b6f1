package claims

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/domain/payer"
	"github.com/rcm/rcm/pkg/money"
)

type mockClaimRepo struct {
	claims map[uuid.UUID]*Claim
	nextNo int64
}

func newMockClaimRepo() *mockClaimRepo {
	return &mockClaimRepo{claims: make(map[uuid.UUID]*Claim)}
}

func (m *mockClaimRepo) Create(_ context.Context, c *Claim) error {
	m.nextNo++
	c.ClaimNumber = m.nextNo
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

// GetByID returns a copy so callers can't mutate the store in place.
func (m *mockClaimRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	c, ok := m.claims[id]
	if !ok {
		return nil, Errf(KindNotFound, "claim %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockClaimRepo) UpdateWithVersion(_ context.Context, c *Claim, expectedVersion int) error {
	stored, ok := m.claims[c.ID]
	if !ok {
		return Errf(KindNotFound, "claim %s not found", c.ID)
	}
	if stored.VersionID != expectedVersion {
		return Errf(KindVersionConflict, "claim %s was modified concurrently", c.ID)
	}
	c.VersionID = expectedVersion + 1
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

func (m *mockClaimRepo) DeleteDraft(_ context.Context, id uuid.UUID) error {
	c, ok := m.claims[id]
	if !ok || c.Status != StatusDraft {
		return Errf(KindNotFound, "draft claim %s not found", id)
	}
	delete(m.claims, id)
	return nil
}

func (m *mockClaimRepo) List(_ context.Context, f QueryFilter, limit, offset int) ([]*Claim, int, error) {
	var out []*Claim
	for _, c := range m.claims {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.PayerCategory != "" && c.PayerCategory != f.PayerCategory {
			continue
		}
		if f.Outstanding && !c.Outstanding() {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockClaimRepo) ListOutstanding(ctx context.Context) ([]*Claim, error) {
	out, _, err := m.List(ctx, QueryFilter{Outstanding: true}, 0, 0)
	return out, err
}

func (m *mockClaimRepo) ListAll(ctx context.Context) ([]*Claim, error) {
	out, _, err := m.List(ctx, QueryFilter{}, 0, 0)
	return out, err
}

type mockTransitionRepo struct {
	entries []*Transition
}

func (m *mockTransitionRepo) Append(_ context.Context, t *Transition) error {
	m.entries = append(m.entries, t)
	return nil
}

func (m *mockTransitionRepo) ListByClaim(_ context.Context, claimID uuid.UUID) ([]*Transition, error) {
	var out []*Transition
	for _, t := range m.entries {
		if t.ClaimID == claimID {
			out = append(out, t)
		}
	}
	return out, nil
}

type mockPaymentRepo struct {
	payments []*Payment
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	m.payments = append(m.payments, p)
	return nil
}

func (m *mockPaymentRepo) ListByClaim(_ context.Context, claimID uuid.UUID) ([]*Payment, error) {
	var out []*Payment
	for _, p := range m.payments {
		if p.ClaimID == claimID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPaymentRepo) ListInWindow(_ context.Context, start, end time.Time) ([]*Payment, error) {
	var out []*Payment
	for _, p := range m.payments {
		if !p.PostedAt.Before(start) && p.PostedAt.Before(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func testPolicyLookup(category string) *payer.Policy {
	switch category {
	case "medicare":
		return medicarePolicy
	case "commercial":
		return commercialPolicy
	case "self-pay":
		return selfPayPolicy
	}
	return nil
}

func newTestService() (*Service, *mockClaimRepo, *mockTransitionRepo, *mockPaymentRepo) {
	claims := newMockClaimRepo()
	transitions := &mockTransitionRepo{}
	payments := &mockPaymentRepo{}
	svc := NewService(claims, transitions, payments, testLookup, testPolicyLookup)
	return svc, claims, transitions, payments
}

func createDraft(t *testing.T, svc *Service) *Claim {
	t.Helper()
	in := buildInput(BuildLineInput{ProcedureCode: "99213", Quantity: 1})
	c, err := svc.Create(context.Background(), in, "tester")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func TestService_CreateAssignsClaimNumber(t *testing.T) {
	svc, _, transitions, _ := newTestService()
	ctx := context.Background()

	first := createDraft(t, svc)
	second := createDraft(t, svc)

	if first.ClaimNumber != 1 || second.ClaimNumber != 2 {
		t.Errorf("claim numbers = %d, %d; want 1, 2", first.ClaimNumber, second.ClaimNumber)
	}

	history, err := transitions.ListByClaim(ctx, first.ID)
	if err != nil {
		t.Fatalf("ListByClaim: %v", err)
	}
	if len(history) != 1 || history[0].Event != "created" {
		t.Errorf("expected one 'created' log entry, got %+v", history)
	}
}

func TestService_FullLifecycle(t *testing.T) {
	svc, _, transitions, payments := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc) // net 108.00

	c, err := svc.Submit(ctx, c.ID, "tester")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c.Status != StatusSubmitted {
		t.Fatalf("status = %s, want submitted", c.Status)
	}

	c, err = svc.Accept(ctx, c.ID, "tester")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if c.BalanceCents != 10800 {
		t.Errorf("accept must not move the balance, got %s", c.BalanceCents)
	}

	c, err = svc.PostPayment(ctx, c.ID, 8640, "era", "ERA-1001", "tester")
	if err != nil {
		t.Fatalf("PostPayment: %v", err)
	}
	if c.Status != StatusPartialPayment {
		t.Errorf("status = %s, want partial-payment", c.Status)
	}
	if c.PaidCents != 8640 || c.BalanceCents != 2160 {
		t.Errorf("paid=%s balance=%s, want 86.40 / 21.60", c.PaidCents, c.BalanceCents)
	}

	c, err = svc.PostPayment(ctx, c.ID, 2160, "card", "", "tester")
	if err != nil {
		t.Fatalf("PostPayment: %v", err)
	}
	if c.Status != StatusPaid || c.BalanceCents != 0 {
		t.Errorf("status=%s balance=%s, want paid / 0", c.Status, c.BalanceCents)
	}

	history, _ := transitions.ListByClaim(ctx, c.ID)
	events := make([]string, len(history))
	for i, h := range history {
		events[i] = h.Event
	}
	want := []string{"created", "submit", "accept", "post_payment", "post_payment"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, events[i], want[i])
		}
	}

	posted, _ := payments.ListByClaim(ctx, c.ID)
	if len(posted) != 2 {
		t.Errorf("expected 2 payment records, got %d", len(posted))
	}
}

func TestService_SubmitRequiresEligibility(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	in := buildInput(BuildLineInput{ProcedureCode: "99213", Quantity: 1})
	in.EligibilityVerified = false
	c, err := svc.Create(ctx, in, "tester")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Submit(ctx, c.ID, "tester"); KindOf(err) != KindEligibilityNotVerified {
		t.Errorf("kind = %q, want eligibility_not_verified", KindOf(err))
	}
	if stored := repo.claims[c.ID]; stored.Status != StatusDraft {
		t.Errorf("failed submit must leave the claim in draft, got %s", stored.Status)
	}

	if _, err := svc.RecordEligibility(ctx, c.ID, true, "tester"); err != nil {
		t.Fatalf("RecordEligibility: %v", err)
	}
	if _, err := svc.Submit(ctx, c.ID, "tester"); err != nil {
		t.Errorf("Submit after verification: %v", err)
	}
}

func TestService_StateMachineClosure(t *testing.T) {
	// Every disallowed edge fails with invalid_state_transition and the
	// stored claim stays byte-for-byte as it was.
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	states := []Status{StatusDraft, StatusSubmitted, StatusAccepted,
		StatusDenied, StatusAppeal, StatusPartialPayment, StatusPaid}

	type op struct {
		name string
		to   Status
		run  func(id uuid.UUID) error
	}
	ops := []op{
		{"submit", StatusSubmitted, func(id uuid.UUID) error { _, err := svc.Submit(ctx, id, "t"); return err }},
		{"accept", StatusAccepted, func(id uuid.UUID) error { _, err := svc.Accept(ctx, id, "t"); return err }},
		{"deny", StatusDenied, func(id uuid.UUID) error { _, err := svc.Deny(ctx, id, "CO-45", "", "t"); return err }},
		{"appeal", StatusAppeal, func(id uuid.UUID) error { _, err := svc.Appeal(ctx, id, "", "t"); return err }},
	}

	for _, from := range states {
		for _, o := range ops {
			if CanTransition(from, o.to) {
				continue
			}
			t.Run(string(from)+"_"+o.name, func(t *testing.T) {
				c := createDraft(t, svc)
				code := "CO-50"
				stored := repo.claims[c.ID]
				stored.Status = from
				if from == StatusDenied || from == StatusAppeal {
					stored.DenialCode = &code
				}
				before := *stored

				err := o.run(c.ID)
				if KindOf(err) != KindInvalidStateTransition {
					t.Fatalf("kind = %q, want invalid_state_transition (err: %v)", KindOf(err), err)
				}
				if after := *repo.claims[c.ID]; !reflect.DeepEqual(after, before) {
					t.Errorf("failed transition mutated the claim: %+v -> %+v", before, after)
				}
			})
		}
	}
}

func TestService_Deny(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	submit := func() uuid.UUID {
		c := createDraft(t, svc)
		if _, err := svc.Submit(ctx, c.ID, "t"); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		return c.ID
	}

	id := submit()
	if _, err := svc.Deny(ctx, id, "", "whatever", "t"); KindOf(err) != KindMissingDenialCode {
		t.Errorf("empty code: kind = %q, want missing_denial_code", KindOf(err))
	}
	if _, err := svc.Deny(ctx, id, "XX-45", "", "t"); KindOf(err) != KindInvalidDenialCode {
		t.Errorf("bad prefix: kind = %q, want invalid_denial_code", KindOf(err))
	}

	c, err := svc.Deny(ctx, id, "CO-45", "", "t")
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if c.Status != StatusDenied {
		t.Errorf("status = %s, want denied", c.Status)
	}
	if c.DenialCode == nil || *c.DenialCode != "CO-45" {
		t.Errorf("denial code not stored: %v", c.DenialCode)
	}
	// Reason defaults to the catalogued description.
	if c.DenialReason == nil || *c.DenialReason != "Charge exceeds fee schedule/maximum allowable" {
		t.Errorf("denial reason = %v", c.DenialReason)
	}
	// A denied claim still carries its full balance.
	if c.BalanceCents != c.NetCents {
		t.Errorf("balance = %s, want %s", c.BalanceCents, c.NetCents)
	}
}

func TestService_AppealCycle(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc)
	svcMust := func(f func() (*Claim, error)) *Claim {
		t.Helper()
		out, err := f()
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		return out
	}

	svcMust(func() (*Claim, error) { return svc.Submit(ctx, c.ID, "t") })
	svcMust(func() (*Claim, error) { return svc.Deny(ctx, c.ID, "CO-50", "", "t") })
	appealed := svcMust(func() (*Claim, error) { return svc.Appeal(ctx, c.ID, "medical records attached", "t") })
	if appealed.Status != StatusAppeal {
		t.Fatalf("status = %s, want appeal", appealed.Status)
	}

	if _, err := svc.ResolveAppeal(ctx, c.ID, StatusPaid, "t"); KindOf(err) != KindInvalidStateTransition {
		t.Errorf("bad outcome: kind = %q, want invalid_state_transition", KindOf(err))
	}

	// First appeal denied again, second appeal accepted.
	svcMust(func() (*Claim, error) { return svc.ResolveAppeal(ctx, c.ID, StatusDenied, "t") })
	svcMust(func() (*Claim, error) { return svc.Appeal(ctx, c.ID, "second review", "t") })
	resolved := svcMust(func() (*Claim, error) { return svc.ResolveAppeal(ctx, c.ID, StatusAccepted, "t") })
	if resolved.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", resolved.Status)
	}
	if resolved.DenialCode != nil {
		t.Errorf("accepting an appeal must clear the denial code, got %v", *resolved.DenialCode)
	}
}

func TestService_AppealRequiresDenialCode(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc)
	stored := repo.claims[c.ID]
	stored.Status = StatusDenied // denied but code missing

	if _, err := svc.Appeal(ctx, c.ID, "", "t"); KindOf(err) != KindMissingDenialCode {
		t.Errorf("kind = %q, want missing_denial_code", KindOf(err))
	}
	if repo.claims[c.ID].Status != StatusDenied {
		t.Error("failed appeal must not change status")
	}
}

func TestService_PostPayment_Rejections(t *testing.T) {
	svc, repo, _, payments := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc)
	if _, err := svc.Submit(ctx, c.ID, "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Accept(ctx, c.ID, "t"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		amount money.Cents
		kind   Kind
	}{
		{"zero amount", 0, KindNegativeOrZeroAmount},
		{"negative amount", -500, KindNegativeOrZeroAmount},
		{"over balance", 10801, KindOverpaymentRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PostPayment(ctx, c.ID, tt.amount, "check", "", "t")
			if KindOf(err) != tt.kind {
				t.Errorf("kind = %q, want %q", KindOf(err), tt.kind)
			}
		})
	}

	stored := repo.claims[c.ID]
	if stored.PaidCents != 0 || stored.BalanceCents != 10800 || stored.Status != StatusAccepted {
		t.Errorf("rejected payments mutated the claim: %+v", stored)
	}
	if len(payments.payments) != 0 {
		t.Errorf("rejected payments were recorded: %d", len(payments.payments))
	}
}

func TestService_PostPayment_SettledClaim(t *testing.T) {
	svc, repo, _, payments := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc) // net 108.00
	if _, err := svc.Submit(ctx, c.ID, "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Accept(ctx, c.ID, "t"); err != nil {
		t.Fatal(err)
	}
	c, err := svc.PostPayment(ctx, c.ID, 10800, "era", "ERA-2001", "t")
	if err != nil {
		t.Fatalf("PostPayment: %v", err)
	}
	if c.Status != StatusPaid || c.BalanceCents != 0 {
		t.Fatalf("status=%s balance=%s, want paid / 0", c.Status, c.BalanceCents)
	}

	// One more cent against the settled claim is an overpayment, not a
	// state machine complaint.
	if _, err := svc.PostPayment(ctx, c.ID, 1, "card", "", "t"); KindOf(err) != KindOverpaymentRejected {
		t.Errorf("kind = %q, want overpayment_rejected", KindOf(err))
	}

	stored := repo.claims[c.ID]
	if stored.Status != StatusPaid || stored.PaidCents != 10800 || stored.BalanceCents != 0 {
		t.Errorf("rejected payment mutated the settled claim: %+v", stored)
	}
	posted, _ := payments.ListByClaim(ctx, c.ID)
	if len(posted) != 1 {
		t.Errorf("expected 1 payment record, got %d", len(posted))
	}
}

func TestService_Resubmit(t *testing.T) {
	svc, repo, transitions, _ := newTestService()
	ctx := context.Background()

	orig := createDraft(t, svc)
	if _, err := svc.Submit(ctx, orig.ID, "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Deny(ctx, orig.ID, "CO-50", "", "t"); err != nil {
		t.Fatal(err)
	}

	corrected, err := svc.Resubmit(ctx, orig.ID, "t")
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if corrected.ID == orig.ID {
		t.Fatal("resubmission must create a new claim")
	}
	if corrected.Status != StatusDraft {
		t.Errorf("status = %s, want draft", corrected.Status)
	}
	if corrected.AppealOfClaimID == nil || *corrected.AppealOfClaimID != orig.ID {
		t.Errorf("AppealOfClaimID = %v, want %s", corrected.AppealOfClaimID, orig.ID)
	}
	if corrected.ClaimNumber == orig.ClaimNumber {
		t.Error("resubmission must get its own claim number")
	}
	if corrected.NetCents != orig.NetCents || corrected.BalanceCents != orig.NetCents {
		t.Errorf("financials not carried: net=%s balance=%s", corrected.NetCents, corrected.BalanceCents)
	}
	if corrected.PaidCents != 0 || corrected.DenialCode != nil {
		t.Errorf("resubmission must start clean: paid=%s denial=%v", corrected.PaidCents, corrected.DenialCode)
	}

	// The denied original keeps its state and history.
	if stored := repo.claims[orig.ID]; stored.Status != StatusDenied {
		t.Errorf("original status = %s, want denied", stored.Status)
	}

	history, _ := transitions.ListByClaim(ctx, corrected.ID)
	if len(history) != 1 || history[0].Event != "created" {
		t.Fatalf("expected one 'created' entry on the new claim, got %+v", history)
	}
	if history[0].Note == "" {
		t.Error("created entry should reference the original claim")
	}
}

func TestService_Resubmit_DeniedOnly(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc)
	if _, err := svc.Resubmit(ctx, c.ID, "t"); KindOf(err) != KindInvalidStateTransition {
		t.Errorf("kind = %q, want invalid_state_transition", KindOf(err))
	}
}

func TestService_PatientPaysDeniedClaim(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc)
	if _, err := svc.Submit(ctx, c.ID, "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Deny(ctx, c.ID, "PR-1", "", "t"); err != nil {
		t.Fatal(err)
	}

	c, err := svc.PostPayment(ctx, c.ID, 10800, "card", "", "t")
	if err != nil {
		t.Fatalf("PostPayment on denied claim: %v", err)
	}
	if c.Status != StatusPaid {
		t.Errorf("status = %s, want paid", c.Status)
	}
}

func TestService_DiscardDraft(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc)
	if err := svc.DiscardDraft(ctx, c.ID); err != nil {
		t.Fatalf("DiscardDraft: %v", err)
	}
	if _, ok := repo.claims[c.ID]; ok {
		t.Error("draft still present after discard")
	}

	c2 := createDraft(t, svc)
	if _, err := svc.Submit(ctx, c2.ID, "t"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DiscardDraft(ctx, c2.ID); KindOf(err) != KindInvalidStateTransition {
		t.Errorf("kind = %q, want invalid_state_transition", KindOf(err))
	}
}

func TestService_RecordEligibility_DraftOnly(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc)
	if _, err := svc.Submit(ctx, c.ID, "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordEligibility(ctx, c.ID, false, "t"); KindOf(err) != KindInvalidStateTransition {
		t.Errorf("kind = %q, want invalid_state_transition", KindOf(err))
	}
}

func TestService_VersionConflict(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	c := createDraft(t, svc)
	// Simulate a concurrent writer bumping the version between read and write.
	repo.claims[c.ID].VersionID = 99

	if _, err := svc.Submit(ctx, c.ID, "t"); err != nil {
		// The read sees version 99 and the write expects it, so no
		// conflict here; force one by racing the stored version.
		t.Fatalf("Submit: %v", err)
	}

	stale := &Claim{ID: c.ID}
	if err := repo.UpdateWithVersion(ctx, stale, 1); KindOf(err) != KindVersionConflict {
		t.Errorf("kind = %q, want version_conflict", KindOf(err))
	}
}

func TestService_GetUnknownClaim(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.Get(context.Background(), uuid.New()); KindOf(err) != KindNotFound {
		t.Errorf("kind = %q, want not_found", KindOf(err))
	}
}
