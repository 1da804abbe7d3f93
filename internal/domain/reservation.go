package domain

import "time"

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusExpired   ReservationStatus = "expired"
)

// Reservation is a hold on ticket inventory. A pending reservation counts
// against availability until it expires, is confirmed or is cancelled.
type Reservation struct {
	ID             string
	TicketTypeID   string
	Quantity       int
	Status         ReservationStatus
	ExpiresAt      time.Time
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLapsed reports whether a pending reservation has passed its expiry at now.
func (r Reservation) IsLapsed(now time.Time) bool {
	return r.Status == ReservationStatusPending && !r.ExpiresAt.After(now)
}
