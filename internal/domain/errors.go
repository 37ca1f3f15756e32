package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSlotNotFound         = errors.New("slot not found")
	ErrNotAvailable         = errors.New("slot not available")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrQuantityOutOfRange   = errors.New("quantity outside booking limits")
	ErrCutoffPassed         = errors.New("booking cutoff passed")
	ErrGuestContactRequired = errors.New("guest contact required")

	ErrBookingNotFound      = errors.New("booking not found")
	ErrBookingNotPending    = errors.New("booking is not pending")
	ErrBookingNotCancelable = errors.New("booking cannot be cancelled")
	ErrPaymentNotCompleted  = errors.New("payment not completed")
	ErrHoldExpired          = errors.New("hold expired")

	ErrTicketNotFound       = errors.New("ticket not found")
	ErrTicketTampered       = errors.New("ticket payload tampered or invalid")
	ErrAlreadyRedeemed      = errors.New("ticket already redeemed")
	ErrCannotCancelRedeemed = errors.New("cannot cancel a redeemed ticket")
	ErrWrongResource        = errors.New("ticket not valid for this resource")
	ErrTicketNotYetValid    = errors.New("ticket not yet valid")
	ErrTicketExpired        = errors.New("ticket validity window passed")
	ErrTicketNotActive      = errors.New("ticket not active")

	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrLedgerConflict          = errors.New("capacity ledger conflict")
	ErrInvalidID               = errors.New("invalid id")
)

// CompensationError reports that a compensating action failed after an
// earlier step already failed (or, for refunds, after the booking outcome
// was already decided). Both failures are kept so operators can reconcile.
type CompensationError struct {
	Op           string
	Cause        error
	Compensation error
}

func (e *CompensationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("compensation %s failed: %v", e.Op, e.Compensation)
	}
	return fmt.Sprintf("%v (compensation %s also failed: %v)", e.Cause, e.Op, e.Compensation)
}

func (e *CompensationError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.Compensation
}
