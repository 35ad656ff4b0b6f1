// Package analytics derives accounts-receivable aging and KPI projections
// from a snapshot of the claim ledger. Everything here is read-only and
// idempotent: the same snapshot and asOf always produce the same output.
package analytics

import (
	"time"

	"github.com/rcm/rcm/internal/domain/claims"
	"github.com/rcm/rcm/pkg/money"
)

var bucketLabels = [4]string{"0-30", "31-60", "61-90", "90+"}

// AgingBucket is one band of the AR aging report.
type AgingBucket struct {
	RangeLabel   string      `json:"range_label"`
	ClaimCount   int         `json:"claim_count"`
	BalanceCents money.Cents `json:"balance_cents"`
}

// KPIs is the dashboard rollup computed from a full ledger snapshot.
type KPIs struct {
	AsOf              time.Time   `json:"as_of"`
	TotalClaims       int         `json:"total_claims"`
	DaysInAR          float64     `json:"days_in_ar"`
	NetCollectionRate float64     `json:"net_collection_rate"`
	DenialRate        float64     `json:"denial_rate"`
	BilledCents       money.Cents `json:"billed_cents"`
	CollectedCents    money.Cents `json:"collected_cents"`
	OutstandingCents  money.Cents `json:"outstanding_cents"`
}

// bucketIndex places an age in days into an aging band. Ties go to the
// lower bucket: exactly 30 days is still 0-30.
func bucketIndex(ageDays int) int {
	switch {
	case ageDays <= 30:
		return 0
	case ageDays <= 60:
		return 1
	case ageDays <= 90:
		return 2
	default:
		return 3
	}
}

// AgingBuckets partitions claims carrying a balance into the four
// standard AR bands by days since date of service.
func AgingBuckets(snapshot []*claims.Claim, asOf time.Time) [4]AgingBucket {
	var out [4]AgingBucket
	for i := range out {
		out[i].RangeLabel = bucketLabels[i]
	}
	for _, c := range snapshot {
		if c.BalanceCents <= 0 {
			continue
		}
		i := bucketIndex(c.AgeDays(asOf))
		out[i].ClaimCount++
		out[i].BalanceCents += c.BalanceCents
	}
	return out
}

// DaysInAR is the mean age in days of claims carrying a balance, or 0
// when nothing is outstanding.
func DaysInAR(snapshot []*claims.Claim, asOf time.Time) float64 {
	var sum, n int
	for _, c := range snapshot {
		if c.BalanceCents <= 0 {
			continue
		}
		sum += c.AgeDays(asOf)
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// NetCollectionRate is the percentage of billed charges no longer
// outstanding, or 0 when nothing has been billed.
func NetCollectionRate(snapshot []*claims.Claim) float64 {
	var billed, outstanding money.Cents
	for _, c := range snapshot {
		billed += c.NetCents
		outstanding += c.BalanceCents
	}
	if billed == 0 {
		return 0
	}
	return float64(billed-outstanding) / float64(billed) * 100
}

// DenialRate is the percentage of claims currently denied or under
// appeal, or 0 for an empty ledger.
func DenialRate(snapshot []*claims.Claim) float64 {
	if len(snapshot) == 0 {
		return 0
	}
	var denied int
	for _, c := range snapshot {
		if c.Status == claims.StatusDenied || c.Status == claims.StatusAppeal {
			denied++
		}
	}
	return float64(denied) / float64(len(snapshot)) * 100
}

// RevenueInWindow sums payments posted in [start, end). Revenue timing
// keys off when the money actually arrived, not the claim's date of
// service.
func RevenueInWindow(payments []*claims.Payment, start, end time.Time) money.Cents {
	var total money.Cents
	for _, p := range payments {
		if !p.PostedAt.Before(start) && p.PostedAt.Before(end) {
			total += p.AmountCents
		}
	}
	return total
}

// ComputeKPIs assembles the dashboard rollup from one snapshot.
func ComputeKPIs(snapshot []*claims.Claim, asOf time.Time) KPIs {
	k := KPIs{AsOf: asOf, TotalClaims: len(snapshot)}
	for _, c := range snapshot {
		k.BilledCents += c.NetCents
		k.CollectedCents += c.PaidCents
		k.OutstandingCents += c.BalanceCents
	}
	k.DaysInAR = DaysInAR(snapshot, asOf)
	k.NetCollectionRate = NetCollectionRate(snapshot)
	k.DenialRate = DenialRate(snapshot)
	return k
}
