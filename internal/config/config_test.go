// README: Config loading tests.
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.AcceptWindow)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.PendingWindow)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.SweepInterval)
	assert.Equal(t, 64, cfg.Realtime.QueueSize)
	assert.Equal(t, "log", cfg.Notify.Backend)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DISPATCH_HTTP_ADDR", ":9999")
	t.Setenv("DISPATCH_DISPATCH_ACCEPT_WINDOW", "90s")
	t.Setenv("DISPATCH_NOTIFY_BACKEND", "kafka")
	t.Setenv("DISPATCH_NOTIFY_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DISPATCH_REALTIME_QUEUE_SIZE", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 90*time.Second, cfg.Dispatch.AcceptWindow)
	assert.Equal(t, "kafka", cfg.Notify.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notify.KafkaBrokers)
	assert.Equal(t, 8, cfg.Realtime.QueueSize)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("DISPATCH_DISPATCH_SWEEP_INTERVAL", "soon")
	_, err := Load()
	assert.Error(t, err)
}
