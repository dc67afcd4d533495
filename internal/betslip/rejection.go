package betslip

import (
	"errors"
	"fmt"
)

// Reason classifies why the slip refused an operation.
type Reason string

const (
	ReasonEmptySlip           Reason = "empty_slip"
	ReasonTooFewLegs          Reason = "too_few_legs"
	ReasonZeroStake           Reason = "zero_stake"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonInvalidOdds         Reason = "invalid_odds"
	ReasonUnknownSelection    Reason = "unknown_selection"
	ReasonUnavailable         Reason = "selection_unavailable"
	ReasonSettlementFailed    Reason = "settlement_failed"
	ReasonSubmitInProgress    Reason = "submit_in_progress"
)

// Rejection is a validation outcome, not a fault. The slip is left as it
// was before the rejected call.
type Rejection struct {
	Reason  Reason
	Message string
	Err     error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Reason, r.Message, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the rejection reason carried by err, or "".
func ReasonOf(err error) Reason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}
