package proxy

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/codefionn/durchgang/durchgang-srv/logger"
)

// DefaultHealthCheckInterval is how often pool upstreams are probed.
const DefaultHealthCheckInterval = 30 * time.Second

type upstreamState struct {
	addr     string
	healthy  bool
	latency  time.Duration
	failures int
	active   int
}

// UpstreamPool tracks a set of upstream proxy servers. It probes them
// periodically, remembers their latency, and orders candidates so the
// fastest healthy upstream with the least in-flight load is tried first.
type UpstreamPool struct {
	mu        sync.Mutex
	upstreams []*upstreamState
	timeout   time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewUpstreamPool creates a pool over the given proxy addresses. All
// upstreams start healthy; probing refines that.
func NewUpstreamPool(addrs []string, timeout time.Duration) *UpstreamPool {
	p := &UpstreamPool{
		timeout: timeout,
		stop:    make(chan struct{}),
	}
	for _, addr := range addrs {
		p.upstreams = append(p.upstreams, &upstreamState{addr: addr, healthy: true})
	}
	return p
}

// Start launches the background health check loop.
func (p *UpstreamPool) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	go func() {
		p.checkAll()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.checkAll()
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			}
		}
	}()
}

// Stop ends the health check loop.
func (p *UpstreamPool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// checkAll probes every upstream with a plain TCP dial and records latency.
func (p *UpstreamPool) checkAll() {
	p.mu.Lock()
	addrs := make([]string, len(p.upstreams))
	for i, u := range p.upstreams {
		addrs[i] = u.addr
	}
	p.mu.Unlock()

	for _, addr := range addrs {
		start := time.Now()
		conn, err := net.DialTimeout("tcp", addr, p.timeout)
		latency := time.Since(start)
		if conn != nil {
			_ = conn.Close()
		}

		p.mu.Lock()
		for _, u := range p.upstreams {
			if u.addr != addr {
				continue
			}
			wasHealthy := u.healthy
			u.healthy = err == nil
			u.latency = latency
			if err == nil {
				u.failures = 0
			}
			if wasHealthy != u.healthy {
				if u.healthy {
					logger.Info("Upstream proxy %s is healthy again (latency %s)", addr, latency)
				} else {
					logger.Warn("Upstream proxy %s failed health check: %v", addr, err)
				}
			}
			break
		}
		p.mu.Unlock()
	}
}

// Candidates returns upstream addresses in preference order: healthy ones
// first, least loaded, then lowest latency. Unhealthy upstreams come last
// rather than never, so a pool with nothing healthy still gets retried.
func (p *UpstreamPool) Candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ordered := make([]*upstreamState, len(p.upstreams))
	copy(ordered, p.upstreams)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.healthy != b.healthy {
			return a.healthy
		}
		if a.active != b.active {
			return a.active < b.active
		}
		return a.latency < b.latency
	})

	addrs := make([]string, len(ordered))
	for i, u := range ordered {
		addrs[i] = u.addr
	}
	return addrs
}

// NoteSuccess records a successful connect through an upstream.
func (p *UpstreamPool) NoteSuccess(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.upstreams {
		if u.addr == addr {
			u.active++
			u.failures = 0
			u.healthy = true
			return
		}
	}
}

// NoteFailure records a failed connect. Three consecutive failures mark the
// upstream unhealthy until a probe succeeds.
func (p *UpstreamPool) NoteFailure(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.upstreams {
		if u.addr == addr {
			u.failures++
			if u.failures >= 3 {
				u.healthy = false
			}
			return
		}
	}
}

// Done records that a connection through an upstream has finished.
func (p *UpstreamPool) Done(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.upstreams {
		if u.addr == addr && u.active > 0 {
			u.active--
			return
		}
	}
}

// poolConn releases its upstream's load slot when closed.
type poolConn struct {
	net.Conn
	pool *UpstreamPool
	addr string
	once sync.Once
}

func (c *poolConn) Close() error {
	c.once.Do(func() { c.pool.Done(c.addr) })
	return c.Conn.Close()
}

// CloseWrite forwards half-close to the underlying TCP connection.
func (c *poolConn) CloseWrite() error {
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}
