package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.AddTicketType(domain.TicketType{ID: "tt-1", EventID: "ev-1", Name: "General", Price: 1000, Capacity: 5, Version: 1})
	return s
}

func pending(id, key string, qty int, expiresAt time.Time) domain.Reservation {
	return domain.Reservation{
		ID:             id,
		TicketTypeID:   "tt-1",
		Quantity:       qty,
		Status:         domain.ReservationStatusPending,
		ExpiresAt:      expiresAt,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestStore_AdjustSold(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	tt, err := s.AdjustSold(ctx, "tt-1", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, tt.Sold)
	assert.Equal(t, int64(2), tt.Version)

	_, err = s.AdjustSold(ctx, "tt-1", 1, 1)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	_, err = s.AdjustSold(ctx, "tt-1", 3, 2)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	_, err = s.AdjustSold(ctx, "tt-1", -4, 2)
	assert.ErrorIs(t, err, domain.ErrSoldUnderflow)

	_, err = s.AdjustSold(ctx, "missing", 1, 1)
	assert.ErrorIs(t, err, domain.ErrTicketTypeNotFound)

	got, err := s.GetTicketType(ctx, "tt-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Sold)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.CreateReservation(ctx, pending("r-1", "k-1", 2, now.Add(time.Minute))))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.AdjustSold(ctx, "tt-1", 2, 1); err != nil {
			return err
		}
		if err := s.TransitionReservation(ctx, "r-1", domain.ReservationStatusPending, domain.ReservationStatusConfirmed, now, now); err != nil {
			return err
		}
		if err := s.CreatePurchase(ctx, domain.Purchase{ID: "p-1", ReservationID: "r-1"}); err != nil {
			return err
		}
		if err := s.CreateReservation(ctx, pending("r-2", "k-2", 1, now.Add(time.Minute))); err != nil {
			return err
		}
		if err := s.RecordReservationEvent(ctx, domain.ReservationEvent{Type: domain.EventReservationConfirmed}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	tt, err := s.GetTicketType(ctx, "tt-1")
	require.NoError(t, err)
	assert.Equal(t, 0, tt.Sold)
	assert.Equal(t, int64(1), tt.Version)

	r, err := s.GetReservation(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusPending, r.Status)

	_, err = s.GetReservation(ctx, "r-2")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	p, err := s.GetPurchaseByReservation(ctx, "r-1")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, s.Events())

	// The rolled back key can be used again.
	require.NoError(t, s.CreateReservation(ctx, pending("r-2", "k-2", 1, now.Add(time.Minute))))
}

func TestStore_Reservations(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.CreateReservation(ctx, pending("r-1", "k-1", 2, now.Add(time.Minute))))
	require.NoError(t, s.CreateReservation(ctx, pending("r-2", "k-2", 1, now.Add(-time.Second))))

	assert.ErrorIs(t, s.CreateReservation(ctx, pending("r-3", "k-1", 1, now)), domain.ErrDuplicateKey)
	bad := pending("r-4", "k-4", 1, now)
	bad.TicketTypeID = "missing"
	assert.ErrorIs(t, s.CreateReservation(ctx, bad), domain.ErrTicketTypeNotFound)

	held, err := s.SumActivePending(ctx, "tt-1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, held)

	err = s.TransitionReservation(ctx, "r-2", domain.ReservationStatusConfirmed, domain.ReservationStatusExpired, now, now)
	assert.ErrorIs(t, err, domain.ErrReservationNotPending)
	require.NoError(t, s.TransitionReservation(ctx, "r-2", domain.ReservationStatusPending, domain.ReservationStatusExpired, now.Add(-time.Second), now))

	err = s.DeleteReservation(ctx, "r-1", domain.ReservationStatusConfirmed, now)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	require.NoError(t, s.DeleteReservation(ctx, "r-1", domain.ReservationStatusPending, now))
	assert.ErrorIs(t, s.DeleteReservation(ctx, "r-1", domain.ReservationStatusPending, now), domain.ErrReservationNotFound)

	_, err = s.GetReservationForUpdate(ctx, "r-1")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	byKey, err := s.GetReservationByIdempotencyKey(ctx, "k-2")
	require.NoError(t, err)
	assert.Equal(t, "r-2", byKey.ID)
	_, err = s.GetReservationByIdempotencyKey(ctx, "k-1")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	_, err = s.GetReservationByIdempotencyKey(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	held, err = s.SumActivePending(ctx, "tt-1", now)
	require.NoError(t, err)
	assert.Zero(t, held)

	live := s.ReservationsFor("tt-1")
	require.Len(t, live, 1)
	assert.Equal(t, "r-2", live[0].ID)
}

func TestStore_ListTicketTypesByEvent(t *testing.T) {
	s := seeded(t)
	s.AddTicketType(domain.TicketType{ID: "tt-2", EventID: "ev-1", Name: "VIP", Capacity: 1, Version: 1})
	s.AddEvent("ev-empty", "Empty")

	got, err := s.ListTicketTypesByEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tt-1", got[0].ID)
	assert.Equal(t, "tt-2", got[1].ID)

	got, err = s.ListTicketTypesByEvent(context.Background(), "ev-empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.ListTicketTypesByEvent(context.Background(), "ev-missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestStore_DuplicatePurchase(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.CreatePurchase(ctx, domain.Purchase{ID: "p-1", ReservationID: "r-1"}))
	assert.ErrorIs(t, s.CreatePurchase(ctx, domain.Purchase{ID: "p-2", ReservationID: "r-1"}), domain.ErrReservationNotPending)
}
