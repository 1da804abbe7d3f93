package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, 15*time.Minute, cfg.Reservation.HoldTTL)
	assert.Equal(t, "reservation_events", cfg.Kafka.Topic)
	assert.Len(t, cfg.HTTP.CORSOrigins, 2)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage: memory
http:
  port: "9090"
reservation:
  hold_ttl: 2m
kafka:
  brokers: ["k1:9092", "k2:9092"]
`), 0o600))
	t.Setenv("HOLD_TTL", "5m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, 5*time.Minute, cfg.Reservation.HoldTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("unknown storage", func(t *testing.T) {
		t.Setenv("STORAGE", "sqlite")
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("max hold shorter than default hold", func(t *testing.T) {
		t.Setenv("HOLD_TTL", "30m")
		t.Setenv("MAX_HOLD_TTL", "10m")
		_, err := Load("")
		require.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("prod", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = NewLogger("local", "loud")
	require.Error(t, err)
}
