package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cimillas/ticket-processor/internal/app"
	"github.com/cimillas/ticket-processor/internal/clock"
	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/cimillas/ticket-processor/internal/idempotency"
	"github.com/cimillas/ticket-processor/internal/payment"
	"github.com/cimillas/ticket-processor/internal/storage/memory"
)

type routerFixture struct {
	store *memory.Store
	clock *clock.Manual
	mux   *http.ServeMux
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	store.AddEvent("concert", "Concert")
	store.AddTicketType(domain.TicketType{ID: "general", EventID: "concert", Name: "General", Price: 2500, Capacity: 5, Version: 1})

	guard := idempotency.NewMemoryGuard(clk)
	svc := Services{
		Holds:        app.NewHoldService(store, guard, clk, app.WithHoldTTL(10*time.Minute)),
		Reservations: app.NewReservationService(store, clk),
		Purchases:    app.NewPurchaseService(store, payment.NewSandbox(), clk),
		Availability: app.NewAvailabilityService(store, clk),
		Catalog:      app.NewCatalogService(store, clk),
	}
	health := HandleHealth(HealthCheck{Name: "storage", Pinger: store}, HealthCheck{Name: "idempotency", Pinger: guard})
	return &routerFixture{store: store, clock: clk, mux: NewRouter(svc, health, nil, nil)}
}

func (f *routerFixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestRouter_HoldConfirmCancel(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/holds", `{"ticket_type_id":"general","quantity":3}`, idempotencyHeader, "k1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	created := decodeJSON[reservationResponse](t, rec)
	if created.Status != string(domain.ReservationStatusPending) {
		t.Fatalf("expected pending, got %s", created.Status)
	}

	rec = f.do(t, http.MethodPost, "/holds", `{"ticket_type_id":"general","quantity":3}`, idempotencyHeader, "k1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 on replay, got %d", rec.Code)
	}
	if replay := decodeJSON[reservationResponse](t, rec); replay.ID != created.ID {
		t.Fatalf("expected replay of %s, got %s", created.ID, replay.ID)
	}

	rec = f.do(t, http.MethodPost, "/holds", `{"ticket_type_id":"general","quantity":3,"idempotency_key":"k2"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/ticket-types/general/availability", "")
	if avail := decodeJSON[availabilityResponse](t, rec); avail.Available != 2 || avail.Held != 3 {
		t.Fatalf("unexpected availability %+v", avail)
	}

	rec = f.do(t, http.MethodPost, "/reservations/"+created.ID+"/confirm", `{"payment_token":"tok_visa","currency":"eur"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	confirmed := decodeJSON[reservationResponse](t, rec)
	if confirmed.Purchase == nil || confirmed.Purchase.TotalAmount != 7500 {
		t.Fatalf("unexpected purchase %+v", confirmed.Purchase)
	}

	rec = f.do(t, http.MethodGet, "/reservations/"+created.ID, "")
	if got := decodeJSON[reservationResponse](t, rec); got.Status != string(domain.ReservationStatusConfirmed) || got.Purchase == nil {
		t.Fatalf("expected confirmed reservation with purchase, got %+v", got)
	}

	rec = f.do(t, http.MethodPost, "/reservations/"+created.ID+"/confirm", `{"payment_token":"tok_visa","currency":"EUR"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 on second confirm, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/reservations/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/reservations/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after cancel, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/events/concert/ticket-types", "")
	list := decodeJSON[[]availabilityResponse](t, rec)
	if len(list) != 1 || list[0].Sold != 0 || list[0].Available != 5 {
		t.Fatalf("unexpected listing %+v", list)
	}
}

func TestRouter_ExpiredAndDeclined(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/holds", `{"ticket_type_id":"general","quantity":1,"idempotency_key":"k1","hold_seconds":60}`)
	first := decodeJSON[reservationResponse](t, rec)
	rec = f.do(t, http.MethodPost, "/holds", `{"ticket_type_id":"general","quantity":1,"idempotency_key":"k2"}`)
	second := decodeJSON[reservationResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/reservations/"+second.ID+"/confirm", `{"payment_token":"tok_decline_card","currency":"EUR"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d (%s)", rec.Code, rec.Body.String())
	}

	f.clock.Advance(2 * time.Minute)
	rec = f.do(t, http.MethodPost, "/reservations/"+first.ID+"/confirm", `{"payment_token":"tok_visa","currency":"EUR"}`)
	if rec.Code != http.StatusGone {
		t.Fatalf("expected status 410, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/reservations/"+first.ID, "")
	if got := decodeJSON[reservationResponse](t, rec); got.Status != string(domain.ReservationStatusExpired) {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

func TestRouter_UnknownRoutes(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{"/missing", "/events/unknown/ticket-types", "/ticket-types/unknown/availability"} {
		rec := f.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected status 404, got %d", path, rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rec.Code)
	}
}
