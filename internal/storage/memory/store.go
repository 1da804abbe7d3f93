// Package memory is an in-process storage backend. It implements the same
// contracts as the Postgres store and is used for local runs without a
// database and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cimillas/ticket-processor/internal/domain"
)

type reservationRow struct {
	domain.Reservation
	deleted bool
}

type txKey struct{}

type txState struct {
	undo []func()
}

// Store keeps all state in maps. Transactions are serialized: WithTx holds
// an exclusive lock for the duration of fn and rolls back every write made
// through the transaction context when fn fails.
type Store struct {
	txMu sync.Mutex

	mu           sync.Mutex
	events       map[string]string
	ticketTypes  map[string]domain.TicketType
	typeOrder    []string
	reservations map[string]*reservationRow
	byKey        map[string]string
	purchases    map[string]domain.Purchase
	outbox       []domain.ReservationEvent
}

func NewStore() *Store {
	return &Store{
		events:       make(map[string]string),
		ticketTypes:  make(map[string]domain.TicketType),
		reservations: make(map[string]*reservationRow),
		byKey:        make(map[string]string),
		purchases:    make(map[string]domain.Purchase),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txState{}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func txFromContext(ctx context.Context) *txState {
	tx, _ := ctx.Value(txKey{}).(*txState)
	return tx
}

// record registers an undo step. Callers hold s.mu.
func record(ctx context.Context, undo func()) {
	if tx := txFromContext(ctx); tx != nil {
		tx.undo = append(tx.undo, undo)
	}
}

// AddEvent registers an event id so its ticket types can be listed.
func (s *Store) AddEvent(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id] = name
}

// AddTicketType seeds the ledger. The event is registered implicitly.
func (s *Store) AddTicketType(tt domain.TicketType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[tt.EventID]; !ok {
		s.events[tt.EventID] = ""
	}
	if _, ok := s.ticketTypes[tt.ID]; !ok {
		s.typeOrder = append(s.typeOrder, tt.ID)
	}
	s.ticketTypes[tt.ID] = tt
}

func (s *Store) GetTicketType(_ context.Context, id string) (domain.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt, ok := s.ticketTypes[id]
	if !ok {
		return domain.TicketType{}, domain.ErrTicketTypeNotFound
	}
	return tt, nil
}

func (s *Store) ListTicketTypesByEvent(_ context.Context, eventID string) ([]domain.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, domain.ErrEventNotFound
	}
	var out []domain.TicketType
	for _, id := range s.typeOrder {
		if tt := s.ticketTypes[id]; tt.EventID == eventID {
			out = append(out, tt)
		}
	}
	return out, nil
}

func (s *Store) AdjustSold(ctx context.Context, id string, delta int, expectedVersion int64) (domain.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt, ok := s.ticketTypes[id]
	if !ok {
		return domain.TicketType{}, domain.ErrTicketTypeNotFound
	}
	if tt.Version != expectedVersion {
		return domain.TicketType{}, domain.ErrConcurrencyConflict
	}
	sold := tt.Sold + delta
	switch {
	case sold > tt.Capacity:
		return domain.TicketType{}, domain.ErrCapacityExceeded
	case sold < 0:
		return domain.TicketType{}, domain.ErrSoldUnderflow
	}

	prev := tt
	tt.Sold = sold
	tt.Version++
	s.ticketTypes[id] = tt
	record(ctx, func() { s.ticketTypes[id] = prev })
	return tt, nil
}

// LockTicketTypeHolds is a no-op: transactions are already serialized.
func (s *Store) LockTicketTypeHolds(context.Context, string) error {
	return nil
}

func (s *Store) SumActivePending(_ context.Context, ticketTypeID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, row := range s.reservations {
		if row.deleted || row.TicketTypeID != ticketTypeID {
			continue
		}
		if row.Status == domain.ReservationStatusPending && row.ExpiresAt.After(now) {
			total += row.Quantity
		}
	}
	return total, nil
}

func (s *Store) CreateReservation(ctx context.Context, r domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ticketTypes[r.TicketTypeID]; !ok {
		return domain.ErrTicketTypeNotFound
	}
	if _, ok := s.byKey[r.IdempotencyKey]; ok {
		return domain.ErrDuplicateKey
	}
	if _, ok := s.reservations[r.ID]; ok {
		return domain.ErrDuplicateKey
	}
	s.reservations[r.ID] = &reservationRow{Reservation: r}
	s.byKey[r.IdempotencyKey] = r.ID
	record(ctx, func() {
		delete(s.reservations, r.ID)
		delete(s.byKey, r.IdempotencyKey)
	})
	return nil
}

func (s *Store) GetReservation(_ context.Context, id string) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.reservations[id]
	if !ok || row.deleted {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return row.Reservation, nil
}

func (s *Store) GetReservationByIdempotencyKey(_ context.Context, key string) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.reservations[s.byKey[key]]
	if !ok || row.deleted {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return row.Reservation, nil
}

func (s *Store) GetReservationForUpdate(ctx context.Context, id string) (domain.Reservation, error) {
	return s.GetReservation(ctx, id)
}

func (s *Store) TransitionReservation(ctx context.Context, id string, from, to domain.ReservationStatus, expiresAt, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.reservations[id]
	if !ok || row.deleted {
		return domain.ErrReservationNotFound
	}
	if row.Status != from {
		return domain.ErrReservationNotPending
	}
	prev := row.Reservation
	row.Status = to
	row.ExpiresAt = expiresAt
	row.UpdatedAt = at
	record(ctx, func() { row.Reservation = prev })
	return nil
}

func (s *Store) DeleteReservation(ctx context.Context, id string, expected domain.ReservationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.reservations[id]
	if !ok || row.deleted {
		return domain.ErrReservationNotFound
	}
	if row.Status != expected {
		return domain.ErrConcurrencyConflict
	}
	prev := row.Reservation
	row.deleted = true
	row.Status = domain.ReservationStatusCancelled
	row.UpdatedAt = at
	record(ctx, func() {
		row.deleted = false
		row.Reservation = prev
	})
	return nil
}

func (s *Store) CreatePurchase(ctx context.Context, p domain.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[p.ReservationID]; ok {
		return domain.ErrReservationNotPending
	}
	s.purchases[p.ReservationID] = p
	record(ctx, func() { delete(s.purchases, p.ReservationID) })
	return nil
}

func (s *Store) GetPurchaseByReservation(_ context.Context, reservationID string) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[reservationID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) RecordReservationEvent(ctx context.Context, ev domain.ReservationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.outbox)
	s.outbox = append(s.outbox, ev)
	record(ctx, func() { s.outbox = s.outbox[:n] })
	return nil
}

// Events returns the recorded reservation events in insertion order.
func (s *Store) Events() []domain.ReservationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ReservationEvent(nil), s.outbox...)
}

// ReservationsFor returns the live reservations of a ticket type ordered by
// creation time.
func (s *Store) ReservationsFor(ticketTypeID string) []domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Reservation
	for _, row := range s.reservations {
		if !row.deleted && row.TicketTypeID == ticketTypeID {
			out = append(out, row.Reservation)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Ping(context.Context) error {
	return nil
}
