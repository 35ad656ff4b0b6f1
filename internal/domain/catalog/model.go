package catalog

import (
	"time"

	"github.com/rcm/rcm/pkg/money"
)

// ProcedureCode is a billable procedure in the charge master. Codes follow
// the CPT convention (five digits) but the catalog accepts any non-empty
// code string so payer-specific and local codes can be loaded too.
type ProcedureCode struct {
	Code          string      `json:"code"`
	Name          string      `json:"name"`
	Category      string      `json:"category"`
	PriceCents    money.Cents `json:"price_cents"`
	DiagnosisCode *string     `json:"diagnosis_code,omitempty"`
	GroupingCode  *string     `json:"grouping_code,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

var validCategories = map[string]bool{
	"E&M":         true,
	"Laboratory":  true,
	"Radiology":   true,
	"Imaging":     true,
	"Surgical":    true,
	"Cardiology":  true,
	"Orthopedics": true,
	"Emergency":   true,
	"Preventive":  true,
	"Therapy":     true,
}

// ValidCategory reports whether the category is one the payer policy
// table knows how to price.
func ValidCategory(category string) bool {
	return validCategories[category]
}
