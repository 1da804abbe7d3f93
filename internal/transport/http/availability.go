package http

import (
	"context"
	"net/http"

	"github.com/cimillas/ticket-processor/internal/domain"
)

type AvailabilityReader interface {
	GetAvailability(ctx context.Context, ticketTypeID string) (domain.Availability, error)
}

type CatalogLister interface {
	ListEventAvailability(ctx context.Context, eventID string) ([]domain.Availability, error)
}

func HandleGetAvailability(svc AvailabilityReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		avail, err := svc.GetAvailability(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAvailabilityResponse(avail))
	}
}

// HandleListEventTicketTypes lists every ticket type of an event with its
// current availability.
func HandleListEventTicketTypes(svc CatalogLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListEventAvailability(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := make([]availabilityResponse, 0, len(list))
		for _, a := range list {
			resp = append(resp, newAvailabilityResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type availabilityResponse struct {
	TicketTypeID string `json:"ticket_type_id"`
	EventID      string `json:"event_id"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	Capacity     int    `json:"capacity"`
	Sold         int    `json:"sold"`
	Held         int    `json:"held"`
	Available    int    `json:"available"`
}

func newAvailabilityResponse(a domain.Availability) availabilityResponse {
	return availabilityResponse{
		TicketTypeID: a.TicketTypeID,
		EventID:      a.EventID,
		Name:         a.Name,
		Price:        a.Price,
		Capacity:     a.Capacity,
		Sold:         a.Sold,
		Held:         a.Held,
		Available:    a.Available,
	}
}
