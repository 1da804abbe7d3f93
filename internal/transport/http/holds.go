package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/cimillas/ticket-processor/internal/app"
)

const idempotencyHeader = "Idempotency-Key"

// HoldCreator is the minimal interface needed to create a hold.
type HoldCreator interface {
	CreateHold(ctx context.Context, in app.CreateHoldInput) (app.CreateHoldResult, error)
}

// HandleCreateHold returns an HTTP handler for creating holds. A replayed
// idempotency key answers 200 with the original reservation.
func HandleCreateHold(svc HoldCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createHoldRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
			req.IdempotencyKey = key
		}
		if !validRequest(w, req) {
			return
		}

		res, err := svc.CreateHold(r.Context(), app.CreateHoldInput{
			TicketTypeID:   req.TicketTypeID,
			Quantity:       req.Quantity,
			IdempotencyKey: req.IdempotencyKey,
			HoldSeconds:    req.HoldSeconds,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		status := http.StatusCreated
		if !res.Created {
			status = http.StatusOK
		}
		writeJSON(w, status, newReservationResponse(res.Reservation, nil))
	}
}

type createHoldRequest struct {
	TicketTypeID   string `json:"ticket_type_id" validate:"required"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
	HoldSeconds    int    `json:"hold_seconds" validate:"gte=0"`
}
