package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteCollector(t *testing.T) Collector {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats_test.db")
	c, err := NewSQLiteCollector(path, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

func TestSQLiteConnectionLifecycle(t *testing.T) {
	c := newTestSQLiteCollector(t)
	ctx := context.Background()

	id := c.StartConnection("192.0.2.10")
	require.Positive(t, id)
	c.RecordRequest(id, "example.com:443", "connect")
	c.EndConnection(id, 1024, 4096, 2*time.Second, "normal")

	// Writes are asynchronous and batched.
	require.Eventually(t, func() bool {
		conns, err := c.RecentConnections(ctx, 10)
		return err == nil && len(conns) == 1 && conns[0].EndedAt != nil
	}, 5*time.Second, 25*time.Millisecond)

	conns, err := c.RecentConnections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	conn := conns[0]
	assert.Equal(t, id, conn.ID)
	assert.Equal(t, "192.0.2.10", conn.ClientIP)
	assert.Equal(t, "example.com:443", conn.Target)
	assert.Equal(t, "connect", conn.Kind)
	assert.Equal(t, int64(1024), conn.BytesSent)
	assert.Equal(t, int64(4096), conn.BytesReceived)
	assert.Equal(t, "normal", conn.CloseReason)
}

func TestSQLiteOverviewCounters(t *testing.T) {
	c := newTestSQLiteCollector(t)
	ctx := context.Background()

	first := c.StartConnection("192.0.2.1")
	c.RecordRequest(first, "example.com:443", "connect")
	second := c.StartConnection("192.0.2.2")
	c.RecordRequest(second, "http://example.org/", "forward")
	c.EndConnection(second, 10, 20, time.Second, "normal")

	c.RecordBlocked("203.0.113.5")
	c.RecordAuthFailure("203.0.113.6")
	c.RecordError("dial_failed", "connection refused")

	require.Eventually(t, func() bool {
		ov, err := c.Overview(ctx)
		return err == nil && ov.TotalConnections == 2 && ov.TotalErrors == 1
	}, 5*time.Second, 25*time.Millisecond)

	ov, err := c.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ov.TotalConnections)
	assert.Equal(t, int64(1), ov.ActiveConnections)
	assert.Equal(t, int64(1), ov.TunnelRequests)
	assert.Equal(t, int64(1), ov.ForwardRequests)
	assert.Equal(t, int64(1), ov.BlockedConnections)
	assert.Equal(t, int64(1), ov.AuthFailures)
	assert.Equal(t, int64(1), ov.TotalErrors)
	assert.NotEmpty(t, ov.Uptime)
}

func TestSQLiteRecentErrors(t *testing.T) {
	c := newTestSQLiteCollector(t)
	ctx := context.Background()

	c.RecordError("dial_failed", "first refusal")
	c.RecordError("dial_failed", "second refusal")
	c.RecordError("relay_failed", "reset by peer")

	require.Eventually(t, func() bool {
		errs, err := c.RecentErrors(ctx, 10)
		return err == nil && len(errs) == 2
	}, 5*time.Second, 25*time.Millisecond)

	errs, err := c.RecentErrors(ctx, 10)
	require.NoError(t, err)
	byType := make(map[string]ErrorSummary, len(errs))
	for _, e := range errs {
		byType[e.ErrorType] = e
	}
	require.Contains(t, byType, "dial_failed")
	assert.Equal(t, int64(2), byType["dial_failed"].Count)
	require.Contains(t, byType, "relay_failed")
	assert.Equal(t, int64(1), byType["relay_failed"].Count)
}

func TestSQLiteIDsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats_restart.db")

	c1, err := NewSQLiteCollector(path, 10*time.Millisecond)
	require.NoError(t, err)
	firstID := c1.StartConnection("192.0.2.1")
	c1.EndConnection(firstID, 0, 0, time.Millisecond, "normal")
	require.NoError(t, c1.Close())

	c2, err := NewSQLiteCollector(path, 10*time.Millisecond)
	require.NoError(t, err)
	defer func() {
		_ = c2.Close()
	}()

	secondID := c2.StartConnection("192.0.2.2")
	assert.Greater(t, secondID, firstID, "IDs must not collide across restarts")
}

func TestSQLiteHealthCheck(t *testing.T) {
	c := newTestSQLiteCollector(t)
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestSQLiteRecordAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats_closed.db")

	c, err := NewSQLiteCollector(path, 10*time.Millisecond)
	require.NoError(t, err)
	id := c.StartConnection("192.0.2.4")
	require.NoError(t, c.Close())

	// Handlers can outlive shutdown briefly; late events must be dropped
	// silently, never crash the process.
	assert.NotPanics(t, func() {
		c.RecordError("dial_failed", "late event")
		c.RecordRequest(id, "example.com:443", "connect")
		c.EndConnection(id, 1, 2, time.Millisecond, "normal")
		c.RecordBlocked("203.0.113.9")
		c.StartConnection("192.0.2.5")
	})

	assert.NoError(t, c.Close(), "Close is idempotent")
}

func TestSQLiteCloseFlushesQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats_flush.db")

	c, err := NewSQLiteCollector(path, time.Hour)
	require.NoError(t, err)
	id := c.StartConnection("192.0.2.9")
	c.RecordRequest(id, "example.net:443", "connect")
	c.EndConnection(id, 1, 2, time.Millisecond, "normal")
	// The flush interval never fires; Close must drain the queue itself.
	require.NoError(t, c.Close())

	reopened, err := NewSQLiteCollector(path, time.Hour)
	require.NoError(t, err)
	defer func() {
		_ = reopened.Close()
	}()

	conns, err := reopened.RecentConnections(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "example.net:443", conns[0].Target)
}
