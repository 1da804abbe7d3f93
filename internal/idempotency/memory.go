package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/cimillas/ticket-processor/internal/clock"
)

type entry struct {
	reservationID string
	expiresAt     time.Time
}

// MemoryGuard is a process-local guard with the same semantics as RedisGuard.
type MemoryGuard struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]entry
}

func NewMemoryGuard(clk clock.Clock) *MemoryGuard {
	return &MemoryGuard{clock: clk, entries: make(map[string]entry)}
}

func (g *MemoryGuard) TrySet(_ context.Context, key, reservationID string, ttl time.Duration) (bool, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if e, ok := g.entries[key]; ok && e.expiresAt.After(now) {
		return false, e.reservationID, nil
	}
	g.entries[key] = entry{reservationID: reservationID, expiresAt: now.Add(ttl)}
	return true, "", nil
}

func (g *MemoryGuard) Get(_ context.Context, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok || !e.expiresAt.After(g.clock.Now()) {
		return "", nil
	}
	return e.reservationID, nil
}

func (g *MemoryGuard) Release(_ context.Context, key, reservationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[key]; ok && e.reservationID == reservationID {
		delete(g.entries, key)
	}
	return nil
}

func (g *MemoryGuard) Ping(context.Context) error {
	return nil
}
