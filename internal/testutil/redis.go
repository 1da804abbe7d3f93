package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	redisOnce sync.Once
	redisAddr string
	redisErr  error
)

// RedisAddr returns TEST_REDIS_ADDR, or starts a Redis container when
// TEST_CONTAINERS=1. Otherwise the test is skipped.
func RedisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	if os.Getenv("TEST_CONTAINERS") != "1" {
		t.Skip("skipping Redis integration tests: set TEST_REDIS_ADDR or TEST_CONTAINERS=1")
	}

	redisOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			redisErr = err
			return
		}
		redisAddr, redisErr = c.Endpoint(ctx, "")
	})
	if redisErr != nil {
		t.Skipf("skipping Redis integration tests: %v", redisErr)
	}
	return redisAddr
}
