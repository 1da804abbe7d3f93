package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cimillas/ticket-processor/internal/clock"
	"github.com/cimillas/ticket-processor/internal/testutil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type guard interface {
	TrySet(ctx context.Context, key, reservationID string, ttl time.Duration) (bool, string, error)
	Get(ctx context.Context, key string) (string, error)
	Release(ctx context.Context, key, reservationID string) error
}

func newRedisGuard(t *testing.T) *RedisGuard {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testutil.RedisAddr(t)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("skipping Redis integration tests: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisGuard(client)
}

func runGuardContract(t *testing.T, g guard) {
	ctx := context.Background()

	t.Run("first set is accepted", func(t *testing.T) {
		key := uuid.NewString()
		accepted, existing, err := g.TrySet(ctx, key, "res-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, accepted)
		assert.Empty(t, existing)

		got, err := g.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "res-1", got)
	})

	t.Run("second set returns the stored id", func(t *testing.T) {
		key := uuid.NewString()
		_, _, err := g.TrySet(ctx, key, "res-1", time.Minute)
		require.NoError(t, err)

		accepted, existing, err := g.TrySet(ctx, key, "res-2", time.Minute)
		require.NoError(t, err)
		assert.False(t, accepted)
		assert.Equal(t, "res-1", existing)
	})

	t.Run("get on missing key is empty", func(t *testing.T) {
		got, err := g.Get(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("release only removes own value", func(t *testing.T) {
		key := uuid.NewString()
		_, _, err := g.TrySet(ctx, key, "res-1", time.Minute)
		require.NoError(t, err)

		require.NoError(t, g.Release(ctx, key, "someone-else"))
		got, err := g.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "res-1", got)

		require.NoError(t, g.Release(ctx, key, "res-1"))
		got, err = g.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("concurrent sets have a single winner", func(t *testing.T) {
		key := uuid.NewString()
		const callers = 16

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
			seen    []string
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := uuid.NewString()
				accepted, existing, err := g.TrySet(ctx, key, id, time.Minute)
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				if accepted {
					winners = append(winners, id)
				} else {
					seen = append(seen, existing)
				}
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)
		for _, id := range seen {
			assert.Equal(t, winners[0], id)
		}
	})
}

func TestMemoryGuard(t *testing.T) {
	t.Parallel()
	runGuardContract(t, NewMemoryGuard(clock.NewSystem()))
}

func TestMemoryGuard_Expiry(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	g := NewMemoryGuard(clk)
	ctx := context.Background()

	accepted, _, err := g.TrySet(ctx, "k", "res-1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, accepted)

	clk.Advance(10 * time.Second)
	got, err := g.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)

	accepted, _, err = g.TrySet(ctx, "k", "res-2", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestRedisGuard(t *testing.T) {
	runGuardContract(t, newRedisGuard(t))
}

func TestRedisGuard_Expiry(t *testing.T) {
	g := newRedisGuard(t)
	ctx := context.Background()
	key := uuid.NewString()

	accepted, _, err := g.TrySet(ctx, key, "res-1", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, accepted)

	require.Eventually(t, func() bool {
		got, err := g.Get(ctx, key)
		return err == nil && got == ""
	}, 2*time.Second, 20*time.Millisecond)
}
