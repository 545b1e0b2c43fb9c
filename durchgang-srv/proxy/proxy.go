package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/durchgang/durchgang-srv/config"
	"github.com/codefionn/durchgang/durchgang-srv/logger"
	"github.com/codefionn/durchgang/durchgang-srv/stats"
)

// Proxy is a forwarding HTTP proxy server. It accepts raw TCP connections,
// polices them by client IP and proxy credentials, and serves CONNECT
// tunnels and absolute-URI forward requests.
type Proxy struct {
	config    *config.Config
	firewall  *Firewall
	auth      *Authenticator
	limiter   *Limiter
	dialer    *Dialer
	Collector stats.Collector

	listener net.Listener
	connID   atomic.Int64
	waiting  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewProxy wires a proxy from its configuration.
func NewProxy(cfg *config.Config) *Proxy {
	ctx, cancel := context.WithCancel(context.Background())

	var collector stats.Collector
	if cfg.Statistics.Enabled {
		var err error
		collector, err = stats.NewCollector(cfg.Statistics)
		if err != nil {
			logger.Error("Failed to initialize statistics collector: %v", err)
			collector = stats.NewDummyCollector()
		}
	} else {
		collector = stats.NewDummyCollector()
	}

	auth := NewAuthenticator(cfg.Auth)
	p := &Proxy{
		config:    cfg,
		firewall:  NewFirewall(cfg.Firewall, auth.Configured()),
		auth:      auth,
		limiter:   NewLimiter(int64(cfg.MaxConcurrentConnections)),
		dialer:    NewDialer(cfg.Forwards, cfg.Timeout()),
		Collector: collector,
		ctx:       ctx,
		cancel:    cancel,
	}
	p.dialer.Start(ctx, DefaultHealthCheckInterval)
	return p
}

// GetConfig returns the configuration the proxy was built from.
func (p *Proxy) GetConfig() *config.Config {
	return p.config
}

// timeout is the I/O deadline applied to request parsing, dials and tunnel
// idle periods. Debug mode halves it so stuck tests fail fast.
func (p *Proxy) timeout() time.Duration {
	t := p.config.Timeout()
	if p.config.Debug {
		t /= 2
	}
	return t
}

// Addr returns the bound listen address, or nil before Start.
func (p *Proxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Start listens on the configured address and serves until Stop.
func (p *Proxy) Start() error {
	listener, err := net.Listen("tcp", p.config.ListenAddress)
	if err != nil {
		return NewProxyError(ErrCodeListenerCreateFailed,
			fmt.Sprintf("failed to listen on %s", p.config.ListenAddress), err)
	}
	return p.StartWithListener(listener)
}

// StartWithListener serves on an already bound listener. It blocks until
// the listener is closed.
func (p *Proxy) StartWithListener(listener net.Listener) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		_ = listener.Close()
		return NewProxyError(ErrCodeInvalidServerConfig, "proxy already started", nil)
	}
	p.started = true
	p.listener = listener
	p.mu.Unlock()

	logger.Info("Starting proxy server on %s", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if isClosedConnError(err) {
				break
			}
			logger.Error("Failed to accept connection: %v", err)
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handleConnection(conn)
		}()
	}

	p.wg.Wait()
	return nil
}

// Stop closes the listener, cancels queued connections and waits for active
// handlers to finish before shutting the statistics collector down. Handlers
// still record events while they drain, so the collector must outlive them.
func (p *Proxy) Stop() error {
	p.cancel()
	p.dialer.Stop()

	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()
	var err error
	if listener != nil {
		err = listener.Close()
	}

	p.wg.Wait()

	if closeErr := p.Collector.Close(); closeErr != nil {
		logger.Error("Failed to close statistics collector: %v", closeErr)
	}
	return err
}

// handleConnection runs one client connection through admission, policing
// and request dispatch.
func (p *Proxy) handleConnection(rawConn net.Conn) {
	// Admission first: blocked clients still occupy a slot while queued,
	// which keeps the concurrency bound honest.
	if maxConns := int64(p.config.MaxConcurrentConnections); p.limiter.InFlight() >= maxConns {
		queued := p.waiting.Add(1)
		if queued > int64(p.config.Backlog) {
			logger.Warn("Connection backlog exceeded: %d waiting (backlog %d)", queued, p.config.Backlog)
		}
		defer p.waiting.Add(-1)
	}
	if err := p.limiter.Acquire(p.ctx); err != nil {
		logger.Debug("Connection from %s rejected during shutdown", rawConn.RemoteAddr())
		_ = rawConn.Close()
		return
	}
	defer p.limiter.Release()

	clientIP, _, _ := net.SplitHostPort(rawConn.RemoteAddr().String())

	connectionID := p.Collector.StartConnection(clientIP)
	conn := newTrackedConn(rawConn, p.Collector, connectionID)
	defer func() {
		_ = conn.Close()
	}()

	switch p.firewall.Decide(clientIP) {
	case DecisionBlocked:
		logger.Info("Firewall blocked connection from %s", clientIP)
		p.Collector.RecordBlocked(clientIP)
		conn.setCloseReason("firewall-blocked")
		return
	case DecisionAllowedNoAuth:
		p.serveConn(conn, clientIP, connectionID, false)
	case DecisionAllowedAuthRequired:
		p.serveConn(conn, clientIP, connectionID, true)
	}
}

// serveConn parses the first request and dispatches it.
func (p *Proxy) serveConn(conn *trackedConn, clientIP string, connectionID int64, authRequired bool) {
	timeout := p.timeout()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return
	}

	rr := NewRequestReader(conn)
	req, err := rr.ReadRequest()
	if err != nil {
		p.handleParseError(conn, clientIP, err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	logger.Debug("%s %s from %s", req.Method, req.Target, clientIP)

	if authRequired {
		switch p.auth.Validate(req.ProxyAuthorization()) {
		case AuthValid:
		case AuthMissing, AuthInvalid:
			logger.Info("Proxy authentication failed for %s", clientIP)
			p.Collector.RecordAuthFailure(clientIP)
			conn.setCloseReason("auth-failed")
			if err := writeProxyAuthRequired(conn); err != nil {
				logger.Debug("Failed to write 407 to %s: %v", clientIP, err)
			}
			return
		}
	}

	targetAddr, err := req.TargetAddr()
	if err != nil {
		p.Collector.RecordError("bad-request", err.Error())
		conn.setCloseReason("bad-request")
		_ = writeBadRequest(conn)
		return
	}

	if req.IsConnect {
		p.Collector.RecordRequest(connectionID, targetAddr, "connect")
		p.handleConnect(conn, rr, clientIP, targetAddr)
	} else {
		p.Collector.RecordRequest(connectionID, targetAddr, "forward")
		p.handleForward(conn, req, clientIP, targetAddr)
	}
}

// handleParseError maps a request parse failure onto the wire behavior the
// client sees. Clients that sent nothing are closed silently.
func (p *Proxy) handleParseError(conn *trackedConn, clientIP string, err error) {
	proxyErr, ok := err.(*Error)
	if !ok {
		conn.setCloseReason("parse-error")
		return
	}
	switch proxyErr.Code {
	case ErrCodeConnectionClosed:
		conn.setCloseReason("client-closed")
	case ErrCodeRequestTooLarge:
		logger.Warn("Request from %s exceeds header limit", clientIP)
		p.Collector.RecordError("request-too-large", clientIP)
		conn.setCloseReason("request-too-large")
		_ = writeBadRequest(conn)
	default:
		if isTimeoutError(err) {
			logger.Debug("Request from %s timed out during parse", clientIP)
			conn.setCloseReason("parse-timeout")
			return
		}
		logger.Info("Malformed request from %s: %v", clientIP, err)
		p.Collector.RecordError("malformed-request", clientIP)
		conn.setCloseReason("malformed-request")
		_ = writeBadRequest(conn)
	}
}

// handleConnect establishes a tunnel for a CONNECT request and relays bytes
// until either side finishes.
func (p *Proxy) handleConnect(conn *trackedConn, rr *RequestReader, clientIP, targetAddr string) {
	timeout := p.timeout()
	dialCtx, cancel := context.WithTimeout(p.ctx, timeout)
	upstream, err := p.dialer.DialTarget(dialCtx, targetAddr)
	cancel()
	if err != nil {
		logger.Info("CONNECT to %s for %s failed: %v", targetAddr, clientIP, err)
		p.Collector.RecordError("connect-failed", err.Error())
		conn.setCloseReason("upstream-unreachable")
		if isTimeoutError(err) {
			_ = writeGatewayTimeout(conn)
		} else {
			_ = writeBadGateway(conn)
		}
		return
	}
	defer func() {
		_ = upstream.Close()
	}()

	if _, err := conn.Write([]byte(connectionEstablished)); err != nil {
		logger.Debug("Failed to confirm tunnel to %s: %v", clientIP, err)
		conn.setCloseReason("client-write-failed")
		return
	}

	logger.Debug("Tunnel established %s -> %s", clientIP, targetAddr)
	outcome := Relay(conn, rr.Buffered(), upstream, timeout)
	if outcome.Err != nil {
		conn.setCloseReason("relay-error")
		logger.Debug("Tunnel %s -> %s ended with error: %v", clientIP, targetAddr, outcome.Err)
	}
	logger.Debug("Tunnel %s -> %s closed: %d bytes up, %d bytes down, %s finished first",
		clientIP, targetAddr, outcome.ClientToUpstream, outcome.UpstreamToClient, outcome.FirstDone)
}

// handleForward proxies a single absolute-URI request: the sanitized request
// goes upstream, the raw response streams back, then the connection closes.
func (p *Proxy) handleForward(conn *trackedConn, req *ParsedRequest, clientIP, targetAddr string) {
	timeout := p.timeout()
	dialCtx, cancel := context.WithTimeout(p.ctx, timeout)
	upstream, err := p.dialer.DialTarget(dialCtx, targetAddr)
	cancel()
	if err != nil {
		logger.Info("Forward to %s for %s failed: %v", targetAddr, clientIP, err)
		p.Collector.RecordError("forward-dial-failed", err.Error())
		conn.setCloseReason("upstream-unreachable")
		if isTimeoutError(err) {
			_ = writeGatewayTimeout(conn)
		} else {
			_ = writeBadGateway(conn)
		}
		return
	}
	defer func() {
		_ = upstream.Close()
	}()

	sanitizeForwardRequest(req.Request)
	// Writing the request streams the body from the client connection, so the
	// client idle timeout has to keep running while the body forwards.
	if req.Request.Body != nil && req.Request.Body != http.NoBody {
		req.Request.Body = io.NopCloser(&idleDeadlineReader{
			r:    req.Request.Body,
			conn: conn,
			idle: timeout,
		})
	}
	if err := req.Request.Write(upstream); err != nil {
		logger.Info("Failed to send request to %s: %v", targetAddr, err)
		p.Collector.RecordError("forward-write-failed", err.Error())
		conn.setCloseReason("upstream-write-failed")
		_ = writeBadGateway(conn)
		return
	}
	closeWrite(upstream)

	// The 504 window ends with the first response byte. After that the
	// response streams as-is and a stall just closes the connection.
	if err := upstream.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		conn.setCloseReason("upstream-deadline-failed")
		_ = writeBadGateway(conn)
		return
	}
	upstreamReader := bufio.NewReader(upstream)
	if _, err := upstreamReader.Peek(1); err != nil {
		logger.Info("No response from %s: %v", targetAddr, err)
		p.Collector.RecordError("forward-response-failed", err.Error())
		conn.setCloseReason("upstream-no-response")
		if isTimeoutError(err) {
			_ = writeGatewayTimeout(conn)
		} else {
			_ = writeBadGateway(conn)
		}
		return
	}

	if _, err := copyWithIdleTimeout(conn, upstreamReader, upstream, timeout); err != nil && !isClosedConnError(err) {
		logger.Debug("Response stream from %s ended with error: %v", targetAddr, err)
		conn.setCloseReason("response-stream-error")
		return
	}
	conn.setCloseReason("normal")
}
