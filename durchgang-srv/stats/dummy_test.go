package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/durchgang/durchgang-srv/config"
)

func TestDummyCollectorCounters(t *testing.T) {
	c := NewDummyCollector()
	ctx := context.Background()

	first := c.StartConnection("192.0.2.1")
	second := c.StartConnection("192.0.2.2")
	assert.NotEqual(t, first, second)

	c.RecordRequest(first, "example.com:443", "connect")
	c.RecordRequest(second, "http://example.org/", "forward")
	c.EndConnection(first, 100, 200, time.Second, "normal")
	c.RecordBlocked("203.0.113.1")
	c.RecordAuthFailure("203.0.113.2")
	c.RecordError("dial_failed", "refused")

	ov, err := c.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ov.TotalConnections)
	assert.Equal(t, int64(1), ov.ActiveConnections)
	assert.Equal(t, int64(1), ov.TunnelRequests)
	assert.Equal(t, int64(1), ov.ForwardRequests)
	assert.Equal(t, int64(1), ov.BlockedConnections)
	assert.Equal(t, int64(1), ov.AuthFailures)
	assert.Equal(t, int64(1), ov.TotalErrors)
	assert.Equal(t, int64(100), ov.BytesSent)
	assert.Equal(t, int64(200), ov.BytesReceived)
}

func TestDummyCollectorQueriesAreEmpty(t *testing.T) {
	c := NewDummyCollector()
	ctx := context.Background()

	conns, err := c.RecentConnections(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, conns)

	errs, err := c.RecentErrors(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, errs)

	assert.NoError(t, c.HealthCheck(ctx))
	assert.NoError(t, c.Close())
}

func TestNewCollectorSelection(t *testing.T) {
	t.Run("disabled yields dummy", func(t *testing.T) {
		c, err := NewCollector(config.StatisticsConfig{Enabled: false, Backend: "postgres"})
		require.NoError(t, err)
		assert.IsType(t, &DummyCollector{}, c)
	})

	t.Run("explicit dummy backend", func(t *testing.T) {
		c, err := NewCollector(config.StatisticsConfig{Enabled: true, Backend: "dummy"})
		require.NoError(t, err)
		assert.IsType(t, &DummyCollector{}, c)
	})

	t.Run("sqlite backend", func(t *testing.T) {
		c, err := NewCollector(config.StatisticsConfig{
			Enabled:    true,
			Backend:    "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "factory_test.db"),
		})
		require.NoError(t, err)
		require.NoError(t, c.Close())
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		_, err := NewCollector(config.StatisticsConfig{Enabled: true, Backend: "postgres"})
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := NewCollector(config.StatisticsConfig{Enabled: true, Backend: "mongodb"})
		assert.Error(t, err)
	})
}
