package claims

import (
	"errors"
	"fmt"
)

// Kind classifies claim processing failures so handlers and callers can
// dispatch on the failure class without parsing messages.
type Kind string

const (
	KindUnknownProcedureCode    Kind = "unknown_procedure_code"
	KindInvalidQuantity         Kind = "invalid_quantity"
	KindEligibilityNotVerified  Kind = "eligibility_not_verified"
	KindInvalidStateTransition  Kind = "invalid_state_transition"
	KindOverpaymentRejected     Kind = "overpayment_rejected"
	KindMissingDenialCode       Kind = "missing_denial_code"
	KindInvalidDenialCode       Kind = "invalid_denial_code"
	KindNegativeOrZeroAmount    Kind = "negative_or_zero_amount"
	KindUnknownPayerCategory    Kind = "unknown_payer_category"
	KindNotFound                Kind = "not_found"
	KindVersionConflict         Kind = "version_conflict"
)

// Error is a classified claim processing error.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is lets errors.Is match against a bare &Error{Kind: k} sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errf builds a classified error with a formatted detail message.
func Errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err if it is (or wraps) a claims error,
// or "" otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
