package proxy

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codefionn/durchgang/durchgang-srv/logger"
)

// isClosedConnError reports whether err is the routine noise of a peer that
// went away: these are not relay failures.
func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe")
}

// isTimeoutError reports whether err is a network timeout.
func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Direction names one half of a tunnel.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionClientToUpstream
	DirectionUpstreamToClient
)

func (d Direction) String() string {
	switch d {
	case DirectionClientToUpstream:
		return "client->upstream"
	case DirectionUpstreamToClient:
		return "upstream->client"
	default:
		return "none"
	}
}

// Outcome summarizes a finished tunnel relay.
type Outcome struct {
	ClientToUpstream int64
	UpstreamToClient int64
	FirstDone        Direction
	Err              error
}

// closeWriter is implemented by connections that support half-close.
type closeWriter interface {
	CloseWrite() error
}

func closeWrite(conn net.Conn) {
	if cw, ok := conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}

// Relay shuttles bytes between the client and the upstream until both
// directions have drained or one side fails. clientReader carries any bytes
// already buffered past the CONNECT request; tunnel reads from the client go
// through it, never the raw connection. Each direction half-closes its
// destination when its source reaches EOF, so the peer sees a clean FIN.
// idleTimeout bounds silence per direction, not total tunnel lifetime.
func Relay(client net.Conn, clientReader io.Reader, upstream net.Conn, idleTimeout time.Duration) Outcome {
	var (
		outcome   Outcome
		firstOnce sync.Once
		c2u, u2c  atomic.Int64
	)
	markDone := func(d Direction) {
		firstOnce.Do(func() { outcome.FirstDone = d })
	}
	// A failed direction tears down both connections so the opposite copy
	// does not block on a dead peer.
	abort := func() {
		_ = client.Close()
		_ = upstream.Close()
	}

	var g errgroup.Group

	g.Go(func() error {
		n, err := copyWithIdleTimeout(upstream, clientReader, client, idleTimeout)
		c2u.Store(n)
		markDone(DirectionClientToUpstream)
		closeWrite(upstream)
		if err != nil && !isClosedConnError(err) {
			logger.Debug("Tunnel copy error (%s): %v", DirectionClientToUpstream, err)
			abort()
			return err
		}
		return nil
	})

	g.Go(func() error {
		n, err := copyWithIdleTimeout(client, upstream, upstream, idleTimeout)
		u2c.Store(n)
		markDone(DirectionUpstreamToClient)
		closeWrite(client)
		if err != nil && !isClosedConnError(err) {
			logger.Debug("Tunnel copy error (%s): %v", DirectionUpstreamToClient, err)
			abort()
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if isTimeoutError(err) {
			outcome.Err = NewProxyError(ErrCodeTimeoutExceeded, "tunnel idle timeout", err)
		} else {
			outcome.Err = NewProxyError(ErrCodeRelayFailed, "tunnel relay failed", err)
		}
	}
	outcome.ClientToUpstream = c2u.Load()
	outcome.UpstreamToClient = u2c.Load()
	return outcome
}
