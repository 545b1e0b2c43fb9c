package stats

import (
	"context"
	"sync/atomic"
	"time"
)

// DummyCollector keeps aggregate counters in memory and discards per
// connection detail. It backs the proxy when statistics are disabled, so the
// dashboard overview still has numbers without any storage.
type DummyCollector struct {
	startTime    time.Time
	nextID       atomic.Int64
	total        atomic.Int64
	active       atomic.Int64
	tunnels      atomic.Int64
	forwards     atomic.Int64
	blocked      atomic.Int64
	authFailures atomic.Int64
	errors       atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
}

// NewDummyCollector creates an in-memory collector.
func NewDummyCollector() *DummyCollector {
	return &DummyCollector{startTime: time.Now()}
}

func (c *DummyCollector) StartConnection(clientIP string) int64 {
	c.total.Add(1)
	c.active.Add(1)
	return c.nextID.Add(1)
}

func (c *DummyCollector) RecordRequest(connectionID int64, target, kind string) {
	switch kind {
	case "connect":
		c.tunnels.Add(1)
	case "forward":
		c.forwards.Add(1)
	}
}

func (c *DummyCollector) EndConnection(connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) {
	c.active.Add(-1)
	c.bytesSent.Add(bytesSent)
	c.bytesRecv.Add(bytesReceived)
}

func (c *DummyCollector) RecordBlocked(clientIP string) {
	c.blocked.Add(1)
}

func (c *DummyCollector) RecordAuthFailure(clientIP string) {
	c.authFailures.Add(1)
}

func (c *DummyCollector) RecordError(errorType, message string) {
	c.errors.Add(1)
}

func (c *DummyCollector) Overview(ctx context.Context) (*Overview, error) {
	return &Overview{
		TotalConnections:   c.total.Load(),
		ActiveConnections:  c.active.Load(),
		TunnelRequests:     c.tunnels.Load(),
		ForwardRequests:    c.forwards.Load(),
		BlockedConnections: c.blocked.Load(),
		AuthFailures:       c.authFailures.Load(),
		TotalErrors:        c.errors.Load(),
		BytesSent:          c.bytesSent.Load(),
		BytesReceived:      c.bytesRecv.Load(),
		Uptime:             time.Since(c.startTime).Round(time.Second).String(),
	}, nil
}

func (c *DummyCollector) RecentConnections(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	return nil, nil
}

func (c *DummyCollector) RecentErrors(ctx context.Context, limit int) ([]ErrorSummary, error) {
	return nil, nil
}

func (c *DummyCollector) HealthCheck(ctx context.Context) error {
	return nil
}

func (c *DummyCollector) Close() error {
	return nil
}
