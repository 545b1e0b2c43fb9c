package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	netproxy "golang.org/x/net/proxy"

	"github.com/codefionn/durchgang/durchgang-srv/config"
	"github.com/codefionn/durchgang/durchgang-srv/logger"
)

// Dialer establishes upstream connections, routing through a forward rule
// when the target host matches one. Rules are evaluated in configuration
// order; the first match wins, and no match means a direct connection.
type Dialer struct {
	forwards []config.Forward
	pools    map[*config.ForwardProxy]*UpstreamPool
	timeout  time.Duration
}

// NewDialer compiles the forward rules. Proxy forwards with multiple
// addresses get an upstream pool that tracks health and load.
func NewDialer(forwards []config.Forward, timeout time.Duration) *Dialer {
	d := &Dialer{
		forwards: forwards,
		pools:    make(map[*config.ForwardProxy]*UpstreamPool),
		timeout:  timeout,
	}
	for _, fwd := range forwards {
		if pf, ok := fwd.(*config.ForwardProxy); ok && len(pf.Addresses) > 0 {
			d.pools[pf] = NewUpstreamPool(pf.Addresses, timeout)
		}
	}
	return d
}

// Start begins background health checking for any upstream pools.
func (d *Dialer) Start(ctx context.Context, healthInterval time.Duration) {
	for _, pool := range d.pools {
		pool.Start(ctx, healthInterval)
	}
}

// Stop halts pool health checking.
func (d *Dialer) Stop() {
	for _, pool := range d.pools {
		pool.Stop()
	}
}

// matchHostPattern matches a hostname against a rule pattern. A leading
// "*." matches any subdomain as well as the apex, "*" matches everything,
// anything else is an exact case-insensitive match.
func matchHostPattern(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if pattern == "*" {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return pattern == host
}

// selectForward returns the first forward rule matching host, or nil.
func (d *Dialer) selectForward(host string) config.Forward {
	for _, fwd := range d.forwards {
		patterns := fwd.HostPatterns()
		if len(patterns) == 0 {
			return fwd
		}
		for _, pattern := range patterns {
			if matchHostPattern(pattern, host) {
				return fwd
			}
		}
	}
	return nil
}

// DialTarget connects to addr, applying the matching forward rule.
func (d *Dialer) DialTarget(ctx context.Context, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, NewProxyError(ErrCodeInvalidAddress, "invalid target address", err)
	}

	dialer := &net.Dialer{Timeout: d.timeout}
	selected := d.selectForward(host)

	switch fwd := selected.(type) {
	case nil:
		logger.Debug("Direct connection for %s", addr)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, NewProxyError(ErrCodeDialFailed, fmt.Sprintf("direct dial to %s", addr), err)
		}
		return conn, nil
	case *config.ForwardDefaultNetwork:
		logger.Debug("Default network forward for %s", addr)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, NewProxyError(ErrCodeDialFailed, fmt.Sprintf("dial to %s", addr), err)
		}
		return conn, nil
	case *config.ForwardSocks5:
		logger.Debug("SOCKS5 forward (%s) for %s", fwd.Address, addr)
		return d.dialSocks5(ctx, dialer, fwd, addr)
	case *config.ForwardProxy:
		logger.Debug("HTTP proxy forward for %s", addr)
		return d.dialHTTPProxy(ctx, dialer, fwd, addr)
	default:
		return nil, NewProxyError(ErrCodeInternalError, fmt.Sprintf("unknown forward type %T", selected), nil)
	}
}

// dialSocks5 connects to the target through a SOCKS5 proxy.
func (d *Dialer) dialSocks5(ctx context.Context, dialer *net.Dialer, fwd *config.ForwardSocks5, addr string) (net.Conn, error) {
	var auth *netproxy.Auth
	if fwd.Username != nil {
		auth = &netproxy.Auth{User: *fwd.Username}
		if fwd.Password != nil {
			auth.Password = *fwd.Password
		}
	}

	socksDialer, err := netproxy.SOCKS5("tcp", fwd.Address, auth, dialer)
	if err != nil {
		return nil, NewProxyError(ErrCodeSOCKS5DialerFailed, fmt.Sprintf("SOCKS5 proxy %s", fwd.Address), err)
	}

	if ctxDialer, ok := socksDialer.(netproxy.ContextDialer); ok {
		conn, err := ctxDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, NewProxyError(ErrCodeUpstreamConnectFailed, fmt.Sprintf("target %s via SOCKS5 %s", addr, fwd.Address), err)
		}
		return conn, nil
	}
	conn, err := socksDialer.Dial("tcp", addr)
	if err != nil {
		return nil, NewProxyError(ErrCodeUpstreamConnectFailed, fmt.Sprintf("target %s via SOCKS5 %s", addr, fwd.Address), err)
	}
	return conn, nil
}

// dialHTTPProxy connects to the target with a CONNECT request through one of
// the rule's upstream proxies, picked by the pool when several are
// configured.
func (d *Dialer) dialHTTPProxy(ctx context.Context, dialer *net.Dialer, fwd *config.ForwardProxy, addr string) (net.Conn, error) {
	pool := d.pools[fwd]
	var candidates []string
	if pool != nil {
		candidates = pool.Candidates()
	}
	if len(candidates) == 0 {
		return nil, NewProxyError(ErrCodeNoHealthyUpstream, fmt.Sprintf("no upstream proxy available for %s", addr), nil)
	}

	var lastErr error
	for _, upstream := range candidates {
		conn, err := d.connectViaProxy(ctx, dialer, fwd, upstream, addr)
		if err == nil {
			if pool != nil {
				pool.NoteSuccess(upstream)
				conn = &poolConn{Conn: conn, pool: pool, addr: upstream}
			}
			return conn, nil
		}
		lastErr = err
		if pool != nil {
			pool.NoteFailure(upstream)
		}
		logger.Warn("Upstream proxy %s failed for %s: %v", upstream, addr, err)
	}
	return nil, NewProxyError(ErrCodeNoHealthyUpstream, fmt.Sprintf("all upstream proxies failed for %s", addr), lastErr)
}

func (d *Dialer) connectViaProxy(ctx context.Context, dialer *net.Dialer, fwd *config.ForwardProxy, proxyAddr, targetAddr string) (net.Conn, error) {
	proxyConn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, NewProxyError(ErrCodeHTTPProxyConnectFailed, fmt.Sprintf("proxy server %s", proxyAddr), err)
	}

	connectReq, err := http.NewRequest(http.MethodConnect, "http://"+targetAddr, http.NoBody)
	if err != nil {
		_ = proxyConn.Close()
		return nil, NewProxyError(ErrCodeHTTPProxyConnectFailed, "building CONNECT request", err)
	}
	connectReq.Host = targetAddr
	if fwd.Username != nil {
		password := ""
		if fwd.Password != nil {
			password = *fwd.Password
		}
		credential := base64.StdEncoding.EncodeToString([]byte(*fwd.Username + ":" + password))
		connectReq.Header.Set("Proxy-Authorization", "Basic "+credential)
	}

	if err := connectReq.Write(proxyConn); err != nil {
		_ = proxyConn.Close()
		return nil, NewProxyError(ErrCodeHTTPProxyConnectFailed, fmt.Sprintf("sending CONNECT to %s", proxyAddr), err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(proxyConn), connectReq)
	if err != nil {
		_ = proxyConn.Close()
		return nil, NewProxyError(ErrCodeHTTPProxyConnectFailed, fmt.Sprintf("reading CONNECT response from %s", proxyAddr), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = proxyConn.Close()
		return nil, NewProxyError(ErrCodeHTTPProxyConnectFailed,
			fmt.Sprintf("proxy %s denied CONNECT to %s with status %s: %s", proxyAddr, targetAddr, resp.Status, body), nil)
	}
	return proxyConn, nil
}
