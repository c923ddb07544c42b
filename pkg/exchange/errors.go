package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrInputRejected is returned when user input is not applied.
	ErrInputRejected = errors.New("input rejected")
	// ErrExceedsBalance is returned when an edit would spend more than the wallet holds.
	ErrExceedsBalance = fmt.Errorf("%w: amount exceeds balance", ErrInputRejected)
	// ErrZeroBalance is returned by RequestMax when there is nothing to spend.
	ErrZeroBalance = errors.New("zero balance")
	// ErrSwapNotAllowed is returned by SwapSides when the destination token
	// cannot become the source.
	ErrSwapNotAllowed = errors.New("cannot swap sides: destination token has no balance")

	ErrNoRoute  = errors.New("no route found")
	ErrUpstream = errors.New("upstream failure")

	// ErrApprovalRequired blocks execution until Approve succeeds.
	ErrApprovalRequired = errors.New("approval required")
	// ErrApprovalPending blocks execution while the allowance check is in flight.
	ErrApprovalPending = errors.New("approval check pending")
	// ErrApprovalUnknown blocks execution when the allowance could not be
	// checked and no earlier answer exists.
	ErrApprovalUnknown = errors.New("allowance could not be verified")
	// ErrExecuteBlocked is returned when execution preconditions are not met.
	ErrExecuteBlocked = errors.New("execute blocked")
	// ErrSubmission wraps transaction rejection, revert or replacement.
	ErrSubmission = errors.New("transaction submission failed")

	ErrBusy   = errors.New("transaction already in progress")
	ErrClosed = errors.New("exchange closed")
)
