package payer

import "time"

// Policy holds the reimbursement terms for one payer category. Rates are
// fractions in [0,1]: the contractual adjustment is written off the gross
// charge, the coinsurance rate splits the remaining net between patient
// and insurance.
type Policy struct {
	Category                  string    `json:"category"`
	ContractualAdjustmentRate float64   `json:"contractual_adjustment_rate"`
	CoinsuranceRate           float64   `json:"coinsurance_rate"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

const (
	CategoryMedicare   = "medicare"
	CategoryMedicaid   = "medicaid"
	CategoryCommercial = "commercial"
	CategorySelfPay    = "self-pay"
)

var knownCategories = map[string]bool{
	CategoryMedicare:   true,
	CategoryMedicaid:   true,
	CategoryCommercial: true,
	CategorySelfPay:    true,
}

// KnownCategory reports whether the category is one of the built-in payer
// classes. New categories can be added through the admin endpoint.
func KnownCategory(category string) bool {
	return knownCategories[category]
}

// DefaultPolicies returns the seed policy table. Self-pay takes no
// contractual adjustment and puts the entire net on the patient.
func DefaultPolicies() []*Policy {
	return []*Policy{
		{Category: CategoryMedicare, ContractualAdjustmentRate: 0.20, CoinsuranceRate: 0.20},
		{Category: CategoryMedicaid, ContractualAdjustmentRate: 0.30, CoinsuranceRate: 0.00},
		{Category: CategoryCommercial, ContractualAdjustmentRate: 0.10, CoinsuranceRate: 0.25},
		{Category: CategorySelfPay, ContractualAdjustmentRate: 0.00, CoinsuranceRate: 1.00},
	}
}
