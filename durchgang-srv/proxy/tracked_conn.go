package proxy

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/durchgang/durchgang-srv/stats"
)

// trackedConn wraps a client connection and accounts transferred bytes into
// the statistics collector. The final record is emitted exactly once, on
// Close.
type trackedConn struct {
	net.Conn
	collector    stats.Collector
	connectionID int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	startTime    time.Time
	closeReason  atomic.Value // string
	endOnce      sync.Once
}

func newTrackedConn(conn net.Conn, collector stats.Collector, connectionID int64) *trackedConn {
	return &trackedConn{
		Conn:         conn,
		collector:    collector,
		connectionID: connectionID,
		startTime:    time.Now(),
	}
}

func (c *trackedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.bytesRecv.Add(int64(n))
	}
	return n, err
}

func (c *trackedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.bytesSent.Add(int64(n))
	}
	return n, err
}

// setCloseReason records why the connection is about to be closed. Only the
// first reason sticks.
func (c *trackedConn) setCloseReason(reason string) {
	c.closeReason.CompareAndSwap(nil, reason)
}

// CloseWrite forwards half-close to the underlying connection so tunnel
// peers see a clean FIN.
func (c *trackedConn) CloseWrite() error {
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.endOnce.Do(func() {
		reason := "normal"
		if v, ok := c.closeReason.Load().(string); ok {
			reason = v
		}
		c.collector.EndConnection(
			c.connectionID,
			c.bytesSent.Load(),
			c.bytesRecv.Load(),
			time.Since(c.startTime),
			reason,
		)
	})
	return err
}
