package http

import "net/http"

// Services groups the application services exposed over HTTP.
type Services struct {
	Holds        HoldCreator
	Reservations ReservationManager
	Purchases    Confirmer
	Availability AvailabilityReader
	Catalog      CatalogLister
}

// Instrumenter wraps a handler registered under a route pattern.
type Instrumenter interface {
	Instrument(route string, next http.Handler) http.Handler
}

type passthrough struct{}

func (passthrough) Instrument(_ string, next http.Handler) http.Handler { return next }

// NewRouter registers the public API. health and metrics may be nil.
func NewRouter(svc Services, health, metrics http.Handler, inst Instrumenter) *http.ServeMux {
	if inst == nil {
		inst = passthrough{}
	}
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, inst.Instrument(pattern, h))
	}

	handle("POST /holds", HandleCreateHold(svc.Holds))
	handle("GET /reservations/{id}", HandleGetReservation(svc.Reservations))
	handle("DELETE /reservations/{id}", HandleCancelReservation(svc.Reservations))
	handle("POST /reservations/{id}/confirm", HandleConfirmReservation(svc.Purchases))
	handle("GET /ticket-types/{id}/availability", HandleGetAvailability(svc.Availability))
	handle("GET /events/{id}/ticket-types", HandleListEventTicketTypes(svc.Catalog))

	if health != nil {
		mux.Handle("GET /health", health)
	}
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.Handle("/", NotFoundHandler())
	return mux
}
