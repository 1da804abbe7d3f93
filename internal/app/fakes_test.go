package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cimillas/ticket-processor/internal/clock"
	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/cimillas/ticket-processor/internal/idempotency"
	"github.com/cimillas/ticket-processor/internal/storage/memory"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu      sync.Mutex
	err     error
	charges []domain.ChargeRequest
	// gate, when set, blocks every charge until it is closed.
	gate chan struct{}
}

func (g *fakeGateway) Charge(ctx context.Context, req domain.ChargeRequest) (string, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	if g.err != nil {
		return "", g.err
	}
	return "conf-" + req.IdempotencyKey, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) Observe(operation, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, operation+":"+outcome)
}

// conflictingLedger fails the first n AdjustSold calls with a version conflict.
type conflictingLedger struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
}

func (l *conflictingLedger) AdjustSold(ctx context.Context, id string, delta int, expectedVersion int64) (domain.TicketType, error) {
	l.mu.Lock()
	if l.conflicts > 0 {
		l.conflicts--
		l.mu.Unlock()
		return domain.TicketType{}, domain.ErrConcurrencyConflict
	}
	l.mu.Unlock()
	return l.Store.AdjustSold(ctx, id, delta, expectedVersion)
}

// failingGuard lets tests inject idempotency store failures.
type failingGuard struct {
	*idempotency.MemoryGuard
	getErr error
}

func (g *failingGuard) Get(ctx context.Context, key string) (string, error) {
	if g.getErr != nil {
		return "", g.getErr
	}
	return g.MemoryGuard.Get(ctx, key)
}

// preclaimedGuard reports every key as taken by a reservation that never
// becomes visible.
type preclaimedGuard struct {
	id string
}

func (g preclaimedGuard) TrySet(context.Context, string, string, time.Duration) (bool, string, error) {
	return false, g.id, nil
}
func (g preclaimedGuard) Get(context.Context, string) (string, error)   { return "", nil }
func (g preclaimedGuard) Release(context.Context, string, string) error { return nil }

// barrierGuard holds the first n Get calls until all n have arrived, so
// concurrent callers all miss the key before any of them registers it.
type barrierGuard struct {
	*idempotency.MemoryGuard
	calls   atomic.Int32
	n       int32
	arrived sync.WaitGroup
}

func newBarrierGuard(g *idempotency.MemoryGuard, n int) *barrierGuard {
	b := &barrierGuard{MemoryGuard: g, n: int32(n)}
	b.arrived.Add(n)
	return b
}

func (g *barrierGuard) Get(ctx context.Context, key string) (string, error) {
	if g.calls.Add(1) <= g.n {
		id, err := g.MemoryGuard.Get(ctx, key)
		g.arrived.Done()
		g.arrived.Wait()
		return id, err
	}
	return g.MemoryGuard.Get(ctx, key)
}

// forgetfulGuard accepts every key and remembers none, like an evicted cache.
type forgetfulGuard struct{}

func (forgetfulGuard) TrySet(context.Context, string, string, time.Duration) (bool, string, error) {
	return true, "", nil
}
func (forgetfulGuard) Get(context.Context, string) (string, error)   { return "", nil }
func (forgetfulGuard) Release(context.Context, string, string) error { return nil }

// hiddenKeyStore misses the first n lookups by idempotency key, as when the
// row is committed by a transaction this one cannot see yet.
type hiddenKeyStore struct {
	*memory.Store
	misses atomic.Int32
}

func (s *hiddenKeyStore) GetReservationByIdempotencyKey(ctx context.Context, key string) (domain.Reservation, error) {
	if s.misses.Add(-1) >= 0 {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return s.Store.GetReservationByIdempotencyKey(ctx, key)
}

type fixture struct {
	store   *memory.Store
	guard   *idempotency.MemoryGuard
	gateway *fakeGateway
	clock   *clock.Manual

	holds        *HoldService
	purchases    *PurchaseService
	reservations *ReservationService
	availability *AvailabilityService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clk := clock.NewManual(testNow)
	f := &fixture{
		store:   memory.NewStore(),
		guard:   idempotency.NewMemoryGuard(clk),
		gateway: &fakeGateway{},
		clock:   clk,
	}
	f.holds = NewHoldService(f.store, f.guard, clk, opts...)
	f.purchases = NewPurchaseService(f.store, f.gateway, clk, opts...)
	f.reservations = NewReservationService(f.store, clk, opts...)
	f.availability = NewAvailabilityService(f.store, clk)
	return f
}

func (f *fixture) addTicketType(id string, capacity, sold int, price int64) {
	f.store.AddTicketType(domain.TicketType{
		ID:       id,
		EventID:  "event-1",
		Name:     id,
		Price:    price,
		Capacity: capacity,
		Sold:     sold,
		Version:  1,
	})
}

func (f *fixture) hold(t *testing.T, ticketTypeID string, qty int, key string) domain.Reservation {
	t.Helper()
	res, err := f.holds.CreateHold(context.Background(), CreateHoldInput{
		TicketTypeID:   ticketTypeID,
		Quantity:       qty,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("create hold %s: %v", key, err)
	}
	return res.Reservation
}

func (f *fixture) sold(t *testing.T, ticketTypeID string) int {
	t.Helper()
	tt, err := f.store.GetTicketType(context.Background(), ticketTypeID)
	if err != nil {
		t.Fatalf("get ticket type: %v", err)
	}
	return tt.Sold
}

var errBoom = errors.New("boom")
