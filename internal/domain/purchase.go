package domain

import "time"

// Purchase records a confirmed, paid reservation.
type Purchase struct {
	ID                string
	ReservationID     string
	TicketTypeID      string
	Quantity          int
	UnitPrice         int64
	TotalAmount       int64
	Currency          string
	ConfirmationToken string
	CreatedAt         time.Time
}

const (
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationCancelled = "reservation.cancelled"
	// EventPaymentUnfinalized marks a captured charge with no purchase behind
	// it, to be refunded or reconciled downstream.
	EventPaymentUnfinalized = "payment.unfinalized"
)

// ReservationEvent is a state change published to other services through the outbox.
type ReservationEvent struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	TicketTypeID  string    `json:"ticket_type_id"`
	Quantity      int       `json:"quantity"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`

	// Set on payment.unfinalized only.
	Amount            int64  `json:"amount,omitempty"`
	Currency          string `json:"currency,omitempty"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// ChargeRequest is what the core sends to the external payment gateway.
type ChargeRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Token          string
	IdempotencyKey string
}
