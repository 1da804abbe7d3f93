package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cimillas/ticket-processor/internal/app"
	"github.com/cimillas/ticket-processor/internal/domain"
)

// ReservationManager reads and cancels reservations.
type ReservationManager interface {
	GetReservation(ctx context.Context, id string) (domain.Reservation, error)
	GetPurchase(ctx context.Context, reservationID string) (*domain.Purchase, error)
	Cancel(ctx context.Context, id string) error
}

// Confirmer is the minimal interface needed to confirm a reservation.
type Confirmer interface {
	Confirm(ctx context.Context, in app.ConfirmInput) (app.ConfirmResult, error)
}

func HandleGetReservation(svc ReservationManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		res, err := svc.GetReservation(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		var purchase *domain.Purchase
		if res.Status == domain.ReservationStatusConfirmed {
			purchase, err = svc.GetPurchase(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, newReservationResponse(res, purchase))
	}
}

func HandleCancelReservation(svc ReservationManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Cancel(r.Context(), r.PathValue("id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleConfirmReservation charges the client and finalizes the hold.
func HandleConfirmReservation(svc Confirmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req confirmRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !validRequest(w, req) {
			return
		}

		res, err := svc.Confirm(r.Context(), app.ConfirmInput{
			ReservationID: r.PathValue("id"),
			PaymentToken:  req.PaymentToken,
			Currency:      req.Currency,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newReservationResponse(res.Reservation, &res.Purchase))
	}
}

type confirmRequest struct {
	PaymentToken string `json:"payment_token" validate:"required"`
	Currency     string `json:"currency" validate:"required,alpha,len=3"`
}

type reservationResponse struct {
	ID             string            `json:"id"`
	TicketTypeID   string            `json:"ticket_type_id"`
	Quantity       int               `json:"quantity"`
	Status         string            `json:"status"`
	ExpiresAt      time.Time         `json:"expires_at"`
	IdempotencyKey string            `json:"idempotency_key"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Purchase       *purchaseResponse `json:"purchase,omitempty"`
}

type purchaseResponse struct {
	ID                string    `json:"id"`
	UnitPrice         int64     `json:"unit_price"`
	TotalAmount       int64     `json:"total_amount"`
	Currency          string    `json:"currency"`
	ConfirmationToken string    `json:"confirmation_token"`
	PurchasedAt       time.Time `json:"purchased_at"`
}

func newReservationResponse(r domain.Reservation, p *domain.Purchase) reservationResponse {
	resp := reservationResponse{
		ID:             r.ID,
		TicketTypeID:   r.TicketTypeID,
		Quantity:       r.Quantity,
		Status:         string(r.Status),
		ExpiresAt:      r.ExpiresAt,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if p != nil {
		resp.Purchase = &purchaseResponse{
			ID:                p.ID,
			UnitPrice:         p.UnitPrice,
			TotalAmount:       p.TotalAmount,
			Currency:          p.Currency,
			ConfirmationToken: p.ConfirmationToken,
			PurchasedAt:       p.CreatedAt,
		}
	}
	return resp
}
