package claims

import (
	"time"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/domain/catalog"
	"github.com/rcm/rcm/internal/domain/payer"
	"github.com/rcm/rcm/pkg/money"
)

// DiscountType selects how BuildInput.DiscountValue is interpreted.
type DiscountType string

const (
	DiscountNone    DiscountType = ""
	DiscountFlat    DiscountType = "flat"    // DiscountValue is cents
	DiscountPercent DiscountType = "percent" // DiscountValue is a fraction of gross, 0..1
)

// BuildLineInput is one requested procedure on a claim under construction.
type BuildLineInput struct {
	ProcedureCode string `json:"procedure_code"`
	Quantity      int    `json:"quantity"`
}

// BuildInput is everything the builder needs to price a draft claim.
type BuildInput struct {
	PatientID                uuid.UUID        `json:"patient_id"`
	DateOfService            time.Time        `json:"date_of_service"`
	PayerCategory            string           `json:"payer_category"`
	LineItems                []BuildLineInput `json:"line_items"`
	DiscountType             DiscountType     `json:"discount_type,omitempty"`
	DiscountValue            float64          `json:"discount_value,omitempty"`
	PriorAuthorizationNumber *string          `json:"prior_authorization_number,omitempty"`
	EligibilityVerified      bool             `json:"eligibility_verified"`
	RequireEligibility       bool             `json:"require_eligibility"`
}

// CatalogLookup resolves a procedure code to its charge master entry,
// returning nil for unknown codes.
type CatalogLookup func(code string) *catalog.ProcedureCode

// BuildClaim prices a draft claim from its line items and the payer's
// policy. It is a pure computation: no I/O, no clock reads past the
// caller-supplied inputs, and no claim is produced on any failure.
//
// Amounts are derived in a fixed order. Gross is the sum of catalog price
// times quantity per line. The contractual allowance is gross times the
// payer's adjustment rate. Any discount is clamped so net never goes
// negative. The patient share is net times the coinsurance rate, rounded
// half away from zero, and the insurance share is the exact remainder so
// the two always reconcile to net.
func BuildClaim(in BuildInput, lookup CatalogLookup, policy *payer.Policy) (*Claim, error) {
	if policy == nil {
		return nil, Errf(KindUnknownPayerCategory, "no payer policy for category %q", in.PayerCategory)
	}
	if len(in.LineItems) == 0 {
		return nil, Errf(KindInvalidQuantity, "claim requires at least one line item")
	}
	if in.RequireEligibility && !in.EligibilityVerified {
		return nil, Errf(KindEligibilityNotVerified, "eligibility has not been verified for patient %s", in.PatientID)
	}

	claimID := uuid.New()
	lines := make([]LineItem, 0, len(in.LineItems))
	var gross money.Cents
	for i, li := range in.LineItems {
		if li.Quantity < 1 {
			return nil, Errf(KindInvalidQuantity, "line %d: quantity must be at least 1, got %d", i+1, li.Quantity)
		}
		pc := lookup(li.ProcedureCode)
		if pc == nil {
			return nil, Errf(KindUnknownProcedureCode, "line %d: procedure code %q is not in the catalog", i+1, li.ProcedureCode)
		}
		total := pc.PriceCents * money.Cents(li.Quantity)
		gross += total
		lines = append(lines, LineItem{
			ID:             uuid.New(),
			ClaimID:        claimID,
			ProcedureCode:  pc.Code,
			Description:    pc.Name,
			Quantity:       li.Quantity,
			UnitPriceCents: pc.PriceCents,
			TotalCents:     total,
			Position:       i + 1,
		})
	}

	allowance := gross.ApplyRate(policy.ContractualAdjustmentRate)

	var discount money.Cents
	switch in.DiscountType {
	case DiscountNone:
	case DiscountFlat:
		if in.DiscountValue < 0 {
			return nil, Errf(KindNegativeOrZeroAmount, "discount must not be negative")
		}
		discount = money.FromFloat(in.DiscountValue)
	case DiscountPercent:
		if in.DiscountValue < 0 || in.DiscountValue > 1 {
			return nil, Errf(KindNegativeOrZeroAmount, "percent discount must be in [0,1], got %v", in.DiscountValue)
		}
		discount = gross.ApplyRate(in.DiscountValue)
	default:
		return nil, Errf(KindNegativeOrZeroAmount, "unknown discount type %q", in.DiscountType)
	}
	// A discount can never cut into the contractual allowance.
	if max := gross - allowance; discount > max {
		discount = max
	}

	net := gross - allowance - discount
	patient := net.ApplyRate(policy.CoinsuranceRate)
	insurance := net - patient

	now := time.Now().UTC()
	return &Claim{
		ID:                         claimID,
		PatientID:                  in.PatientID,
		DateOfService:              in.DateOfService,
		PayerCategory:              in.PayerCategory,
		Status:                     StatusDraft,
		LineItems:                  lines,
		GrossCents:                 gross,
		ContractualAllowanceCents:  allowance,
		DiscountCents:              discount,
		NetCents:                   net,
		PatientResponsibilityCents: patient,
		InsurancePaymentCents:      insurance,
		PaidCents:                  0,
		BalanceCents:               net,
		PriorAuthorizationNumber:   in.PriorAuthorizationNumber,
		EligibilityVerified:        in.EligibilityVerified,
		VersionID:                  1,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}, nil
}
