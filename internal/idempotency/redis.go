// Package idempotency maps client idempotency keys to reservation ids with a
// single atomic set-if-absent round trip.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idempotency:"

// releaseScript deletes the key only while it still holds the caller's value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisGuard struct {
	client redis.UniversalClient
}

func NewRedisGuard(client redis.UniversalClient) *RedisGuard {
	return &RedisGuard{client: client}
}

// TrySet issues SET key value NX PX ttl GET. A nil reply means the key was
// absent and is now set; otherwise the previous value is returned untouched.
func (g *RedisGuard) TrySet(ctx context.Context, key, reservationID string, ttl time.Duration) (bool, string, error) {
	prev, err := g.client.SetArgs(ctx, keyPrefix+key, reservationID, redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
		Get:  true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return true, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("idempotency set: %w", err)
	}
	return false, prev, nil
}

func (g *RedisGuard) Get(ctx context.Context, key string) (string, error) {
	val, err := g.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("idempotency get: %w", err)
	}
	return val, nil
}

func (g *RedisGuard) Release(ctx context.Context, key, reservationID string) error {
	if err := releaseScript.Run(ctx, g.client, []string{keyPrefix + key}, reservationID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
