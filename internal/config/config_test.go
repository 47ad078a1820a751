package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 100, cfg.Redis.PoolSize)
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "profile-sync", cfg.Kafka.Topic)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Archive.Interval)

	assert.Equal(t, int64(5000), cfg.Progression.PerSyncXPCeiling)
	assert.Equal(t, int64(2000), cfg.Progression.HourlyXPCeiling)
	assert.Equal(t, int64(24), cfg.Progression.MaxElapsedHours)
	assert.Equal(t, int64(2), cfg.Progression.ResetAckLevelSlack)
	assert.Equal(t, int64(1000), cfg.Progression.InsuranceMaxDebit)

	assert.Equal(t, "soft", cfg.Auth.SyncHMACMode)
	assert.Equal(t, 5*time.Minute, cfg.Auth.SyncHMACWindow)
	assert.Equal(t, 100, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, 1000, cfg.Leaderboard.MaxLimit)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	os.Setenv("TEST_REDIS_ADDR", "redis.internal:6380")
	os.Setenv("TEST_HMAC_KEY", "s3cret")
	defer os.Unsetenv("TEST_REDIS_ADDR")
	defer os.Unsetenv("TEST_HMAC_KEY")

	content := `
server:
  port: 9090
redis:
  addr: ${TEST_REDIS_ADDR}
auth:
  sync_hmac_key: ${TEST_HMAC_KEY}
  sync_hmac_mode: enforce
progression:
  per_sync_xp_ceiling: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Auth.SyncHMACKey)
	assert.Equal(t, "enforce", cfg.Auth.SyncHMACMode)
	assert.Equal(t, int64(9000), cfg.Progression.PerSyncXPCeiling)

	// Unset fields still pick up defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, int64(2000), cfg.Progression.HourlyXPCeiling)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
