// Package money provides integer minor-unit (cent) currency arithmetic.
// All claim amounts are stored and computed in cents; conversion to a
// decimal representation happens only at the display edge.
package money

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cents is an amount of US currency in minor units.
type Cents int64

// FromFloat converts a dollar amount to cents, rounding half away from zero.
func FromFloat(dollars float64) Cents {
	return Cents(math.Round(dollars * 100))
}

// Float returns the amount in dollars. Display use only.
func (c Cents) Float() float64 {
	return float64(c) / 100
}

// String formats the amount as a decimal dollar string, e.g. "108.00".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ApplyRate multiplies the amount by a fractional rate, rounding half away
// from zero to the nearest cent.
func (c Cents) ApplyRate(rate float64) Cents {
	return Cents(math.Round(float64(c) * rate))
}

// Parse reads a decimal dollar string ("135", "135.5", "135.00") into cents.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has sub-cent precision", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return Cents(v), nil
}
