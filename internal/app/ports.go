package app

import (
	"context"
	"time"

	"github.com/cimillas/ticket-processor/internal/domain"
)

// TxManager runs fn in a single storage transaction carried by ctx.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type TicketTypeReader interface {
	GetTicketType(ctx context.Context, id string) (domain.TicketType, error)
}

type TicketTypeLister interface {
	ListTicketTypesByEvent(ctx context.Context, eventID string) ([]domain.TicketType, error)
}

// Ledger is the inventory ledger. AdjustSold applies delta to Sold only when
// the stored version still equals expectedVersion, returning
// domain.ErrConcurrencyConflict otherwise.
type Ledger interface {
	TicketTypeReader
	AdjustSold(ctx context.Context, id string, delta int, expectedVersion int64) (domain.TicketType, error)
}

// HoldLocker serializes hold creation for one ticket type for the rest of
// the surrounding transaction.
type HoldLocker interface {
	LockTicketTypeHolds(ctx context.Context, ticketTypeID string) error
}

type PendingCounter interface {
	SumActivePending(ctx context.Context, ticketTypeID string, now time.Time) (int, error)
}

// ReservationStore persists holds. TransitionReservation and
// DeleteReservation are guarded by the expected current status.
type ReservationStore interface {
	PendingCounter
	CreateReservation(ctx context.Context, r domain.Reservation) error
	GetReservation(ctx context.Context, id string) (domain.Reservation, error)
	GetReservationForUpdate(ctx context.Context, id string) (domain.Reservation, error)
	// GetReservationByIdempotencyKey ignores cancelled reservations.
	GetReservationByIdempotencyKey(ctx context.Context, key string) (domain.Reservation, error)
	TransitionReservation(ctx context.Context, id string, from, to domain.ReservationStatus, expiresAt, at time.Time) error
	DeleteReservation(ctx context.Context, id string, expected domain.ReservationStatus, at time.Time) error
}

type PurchaseRecorder interface {
	CreatePurchase(ctx context.Context, p domain.Purchase) error
}

// PurchaseReader returns nil when the reservation has no purchase.
type PurchaseReader interface {
	GetPurchaseByReservation(ctx context.Context, reservationID string) (*domain.Purchase, error)
}

// EventRecorder stores a domain event for asynchronous publication, inside
// the caller's transaction when there is one.
type EventRecorder interface {
	RecordReservationEvent(ctx context.Context, ev domain.ReservationEvent) error
}

// IdempotencyGuard maps client idempotency keys to reservation ids.
type IdempotencyGuard interface {
	// TrySet registers key -> reservationID unless key exists, in which case
	// the stored reservation id (possibly "") is returned with accepted=false.
	TrySet(ctx context.Context, key, reservationID string, ttl time.Duration) (accepted bool, existingID string, err error)
	// Get returns "" when the key is not registered.
	Get(ctx context.Context, key string) (string, error)
	// Release removes key only while it still maps to reservationID.
	Release(ctx context.Context, key, reservationID string) error
}

// PaymentGateway charges a payment token and returns the gateway's
// confirmation token. It is called exactly once per attempt.
type PaymentGateway interface {
	Charge(ctx context.Context, req domain.ChargeRequest) (string, error)
}

type AvailabilityStore interface {
	TicketTypeReader
	PendingCounter
}

type CatalogStore interface {
	TicketTypeLister
	PendingCounter
}

type HoldStore interface {
	TxManager
	HoldLocker
	TicketTypeReader
	ReservationStore
}

type FinalizerStore interface {
	TxManager
	Ledger
	ReservationStore
	PurchaseRecorder
	EventRecorder
}

type CancellationStore interface {
	TxManager
	Ledger
	ReservationStore
	PurchaseReader
	EventRecorder
}
