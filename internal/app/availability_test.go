package app

import (
	"context"
	"testing"
	"time"

	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailabilityService_GetAvailability(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithHoldTTL(time.Minute))
	f.addTicketType("tt-1", 10, 3, 1000)
	f.hold(t, "tt-1", 2, "a")

	got, err := f.availability.GetAvailability(context.Background(), "tt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Availability{
		TicketTypeID: "tt-1",
		EventID:      "event-1",
		Name:         "tt-1",
		Price:        1000,
		Capacity:     10,
		Sold:         3,
		Held:         2,
		Available:    5,
	}, got)

	f.clock.Advance(time.Minute)
	got, err = f.availability.GetAvailability(context.Background(), "tt-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Held)
	assert.Equal(t, 7, got.Available)

	_, err = f.availability.GetAvailability(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTicketTypeNotFound)
}

func TestCatalogService_ListEventAvailability(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addTicketType("general", 100, 10, 2000)
	f.addTicketType("vip", 5, 5, 9000)
	f.store.AddTicketType(domain.TicketType{ID: "other", EventID: "event-2", Name: "other", Capacity: 1, Version: 1})
	f.hold(t, "general", 4, "a")

	svc := NewCatalogService(f.store, f.clock)
	got, err := svc.ListEventAvailability(context.Background(), "event-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "general", got[0].TicketTypeID)
	assert.Equal(t, 86, got[0].Available)
	assert.Equal(t, "vip", got[1].TicketTypeID)
	assert.Equal(t, 0, got[1].Available)

	_, err = svc.ListEventAvailability(context.Background(), "no-such-event")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}
