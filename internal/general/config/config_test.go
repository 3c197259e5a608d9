package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("broker:\n  ws_port: 8081\n"))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Broker.WSPort)
	assert.Equal(t, 9090, cfg.Broker.GRPCPort)
	assert.Equal(t, 500*time.Millisecond, cfg.Tracking.MinInterval)
	assert.Equal(t, 2.0, cfg.Tracking.MinDistanceMeters)
	assert.Equal(t, 20.0, cfg.Tracking.MaxAccuracyMeters)
	assert.Equal(t, 10*time.Second, cfg.Driver.AuthTimeout)
	assert.Equal(t, 5, cfg.Driver.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Driver.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.Driver.MaxDelay)

	assert.False(t, cfg.DatabaseEnabled())
	assert.False(t, cfg.RabbitMQEnabled())
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.JWTEnabled())
}

func TestParseDurationsAndOptionalSections(t *testing.T) {
	raw := `
database:
  host: localhost
  user: taxi
  password: secret
  database: reservas
rabbitmq:
  host: localhost
  user: guest
  password: guest
redis:
  addr: localhost:6379
  latest_fix_ttl: 2m
tracking:
  min_interval: 750ms
  max_accuracy_meters: 25
driver:
  broker_url: ws://localhost:8080/ws
  driver_id: "7"
  patente: ABC123
`
	cfg, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.True(t, cfg.DatabaseEnabled())
	assert.True(t, cfg.RabbitMQEnabled())
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 2*time.Minute, cfg.Redis.LatestFixTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.Tracking.MinInterval)
	assert.Equal(t, 25.0, cfg.Tracking.MaxAccuracyMeters)
	assert.NoError(t, cfg.DriverIdentityComplete())
}

func TestParseRejectsIncompleteDatabase(t *testing.T) {
	_, err := Parse([]byte("database:\n  host: localhost\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.user")
	assert.Contains(t, err.Error(), "database.password")
}

func TestParseRejectsInvertedRetryDelays(t *testing.T) {
	_, err := Parse([]byte("driver:\n  initial_delay: 10s\n  max_delay: 2s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver.maxdelay")
}

func TestDriverIdentityComplete(t *testing.T) {
	cfg := Default()
	err := cfg.DriverIdentityComplete()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver.patente")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jwt:\n  secret_key: \"s3cret\"\n"), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.JWTEnabled())

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
