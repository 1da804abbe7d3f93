package domain

import "errors"

// ErrorKind classifies business failures so transports can map them without
// knowing every sentinel.
type ErrorKind string

const (
	KindNotFound              ErrorKind = "not_found"
	KindValidation            ErrorKind = "validation"
	KindInsufficientInventory ErrorKind = "insufficient_inventory"
	KindDuplicateKey          ErrorKind = "duplicate_key"
	KindExpired               ErrorKind = "expired"
	KindNotPending            ErrorKind = "not_pending"
	KindPaymentDeclined       ErrorKind = "payment_declined"
	KindConcurrencyConflict   ErrorKind = "concurrency_conflict"
	KindCapacityExceeded      ErrorKind = "capacity_exceeded"
)

// Error is a typed business failure. Sentinels are compared with errors.Is.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

var (
	ErrTicketTypeNotFound  = newError(KindNotFound, "ticket type not found")
	ErrReservationNotFound = newError(KindNotFound, "reservation not found")
	ErrEventNotFound       = newError(KindNotFound, "event not found")

	ErrInvalidQuantity        = newError(KindValidation, "invalid quantity")
	ErrIdempotencyKeyRequired = newError(KindValidation, "idempotency key required")
	ErrPaymentTokenRequired   = newError(KindValidation, "payment token required")
	ErrCurrencyRequired       = newError(KindValidation, "currency required")
	ErrInvalidID              = newError(KindValidation, "invalid id")

	ErrInsufficientInventory = newError(KindInsufficientInventory, "insufficient inventory")
	ErrDuplicateKey          = newError(KindDuplicateKey, "duplicate idempotency key")
	ErrReservationExpired    = newError(KindExpired, "reservation expired")
	ErrReservationNotPending = newError(KindNotPending, "reservation is not pending")
	ErrPaymentDeclined       = newError(KindPaymentDeclined, "payment declined")
	ErrConcurrencyConflict   = newError(KindConcurrencyConflict, "concurrent modification of ticket type")
	ErrCapacityExceeded      = newError(KindCapacityExceeded, "capacity exceeded")
	ErrSoldUnderflow         = newError(KindCapacityExceeded, "sold count would become negative")
)

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is not a business failure.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
