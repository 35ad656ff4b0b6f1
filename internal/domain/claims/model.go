package claims

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rcm/rcm/pkg/money"
)

// Status is a claim lifecycle state. The ledger only moves claims along
// the edges in validTransitions; paid is terminal.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusSubmitted      Status = "submitted"
	StatusAccepted       Status = "accepted"
	StatusDenied         Status = "denied"
	StatusAppeal         Status = "appeal"
	StatusPartialPayment Status = "partial-payment"
	StatusPaid           Status = "paid"
)

var validStatuses = map[Status]bool{
	StatusDraft: true, StatusSubmitted: true, StatusAccepted: true,
	StatusDenied: true, StatusAppeal: true, StatusPartialPayment: true,
	StatusPaid: true,
}

// ValidStatus reports whether s is a recognized lifecycle state.
func ValidStatus(s Status) bool {
	return validStatuses[s]
}

// validTransitions is the exhaustive edge set of the claim state machine.
// Denied claims admit payment edges because patients may pay a denied
// claim out of pocket instead of appealing.
var validTransitions = map[Status][]Status{
	StatusDraft:          {StatusSubmitted},
	StatusSubmitted:      {StatusAccepted, StatusDenied},
	StatusAccepted:       {StatusPaid, StatusPartialPayment},
	StatusDenied:         {StatusAppeal, StatusPaid, StatusPartialPayment},
	StatusAppeal:         {StatusAccepted, StatusDenied},
	StatusPartialPayment: {StatusPaid, StatusPartialPayment},
	StatusPaid:           {},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func Terminal(s Status) bool {
	return len(validTransitions[s]) == 0
}

// LineItem is one billed procedure on a claim. UnitPriceCents is captured
// from the catalog at build time so later price changes don't reprice
// existing claims.
type LineItem struct {
	ID             uuid.UUID   `json:"id"`
	ClaimID        uuid.UUID   `json:"claim_id"`
	ProcedureCode  string      `json:"procedure_code"`
	Description    string      `json:"description"`
	Quantity       int         `json:"quantity"`
	UnitPriceCents money.Cents `json:"unit_price_cents"`
	TotalCents     money.Cents `json:"total_cents"`
	Position       int         `json:"position"`
}

// Claim is the adjudication record for one patient encounter.
type Claim struct {
	ID          uuid.UUID `json:"id"`
	ClaimNumber int64     `json:"claim_number"`
	PatientID   uuid.UUID `json:"patient_id"`

	DateOfService time.Time `json:"date_of_service"`
	PayerCategory string    `json:"payer_category"`
	Status        Status    `json:"status"`

	LineItems []LineItem `json:"line_items,omitempty"`

	GrossCents                money.Cents `json:"gross_cents"`
	ContractualAllowanceCents money.Cents `json:"contractual_allowance_cents"`
	DiscountCents             money.Cents `json:"discount_cents"`
	NetCents                  money.Cents `json:"net_cents"`
	PatientResponsibilityCents money.Cents `json:"patient_responsibility_cents"`
	InsurancePaymentCents     money.Cents `json:"insurance_payment_cents"`
	PaidCents                 money.Cents `json:"paid_cents"`
	BalanceCents              money.Cents `json:"balance_cents"`

	DenialCode   *string `json:"denial_code,omitempty"`
	DenialReason *string `json:"denial_reason,omitempty"`

	PriorAuthorizationNumber *string `json:"prior_authorization_number,omitempty"`
	EligibilityVerified      bool    `json:"eligibility_verified"`

	// AppealOfClaimID links a resubmitted claim back to the denied claim
	// it corrects.
	AppealOfClaimID *uuid.UUID `json:"appeal_of_claim_id,omitempty"`

	VersionID int       `json:"version_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outstanding reports whether the claim still carries receivable balance.
func (c *Claim) Outstanding() bool {
	return c.BalanceCents > 0 && c.Status != StatusPaid
}

// AgeDays returns whole days elapsed since the date of service.
func (c *Claim) AgeDays(asOf time.Time) int {
	return int(asOf.Sub(c.DateOfService).Hours() / 24)
}

// Transition is one audit log entry for a claim status change.
type Transition struct {
	ID         uuid.UUID `json:"id"`
	ClaimID    uuid.UUID `json:"claim_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Event      string    `json:"event"`
	Actor      string    `json:"actor"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

// Payment is one posted remittance against a claim. Revenue reporting is
// cash-basis and keys off PostedAt, not the claim's date of service.
type Payment struct {
	ID          uuid.UUID   `json:"id"`
	ClaimID     uuid.UUID   `json:"claim_id"`
	AmountCents money.Cents `json:"amount_cents"`
	Method      string      `json:"method"`
	Reference   string      `json:"reference,omitempty"`
	PostedAt    time.Time   `json:"posted_at"`
}

// denialCodeDescriptions covers the adjustment codes payers use most; the
// taxonomy is open past these as long as the group prefix is valid.
var denialCodeDescriptions = map[string]string{
	"CO-45":  "Charge exceeds fee schedule/maximum allowable",
	"CO-50":  "Non-covered services: not deemed medically necessary",
	"CO-97":  "Benefit included in payment for another service",
	"CO-167": "Diagnosis not covered",
	"PR-1":   "Deductible amount",
	"PR-2":   "Coinsurance amount",
	"PR-3":   "Copayment amount",
	"PR-204": "Service not covered under the patient's current plan",
	"OA-18":  "Exact duplicate claim/service",
	"OA-23":  "Impact of prior payer adjudication",
}

var denialCodePrefixes = []string{"CO-", "PR-", "OA-"}

// ValidDenialCode reports whether the code carries a known group prefix
// followed by a numeric reason code.
func ValidDenialCode(code string) bool {
	for _, prefix := range denialCodePrefixes {
		if !strings.HasPrefix(code, prefix) {
			continue
		}
		suffix := code[len(prefix):]
		if suffix == "" {
			return false
		}
		for _, r := range suffix {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// DenialCodeDescription returns the curated description for a code, or ""
// when the code is valid but uncatalogued.
func DenialCodeDescription(code string) string {
	return denialCodeDescriptions[code]
}
