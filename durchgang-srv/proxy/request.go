package proxy

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// maxHeaderBytes bounds the request line plus headers read from a client
// before the proxy gives up on the request.
const maxHeaderBytes = 64 * 1024

// limitedHeaderReader enforces a byte budget while request headers are being
// parsed. The budget is lifted once the headers are complete so the body can
// stream through untouched.
type limitedHeaderReader struct {
	r         io.Reader
	remaining int64
	enforced  bool
}

var errHeaderBytesExceeded = errors.New("header byte limit exceeded")

func (l *limitedHeaderReader) Read(p []byte) (int, error) {
	if !l.enforced {
		return l.r.Read(p)
	}
	if l.remaining <= 0 {
		return 0, errHeaderBytesExceeded
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

// RequestReader parses HTTP requests from a client connection.
type RequestReader struct {
	br  *bufio.Reader
	lim *limitedHeaderReader
}

// NewRequestReader wraps a client connection for request parsing.
func NewRequestReader(conn io.Reader) *RequestReader {
	lim := &limitedHeaderReader{r: conn}
	return &RequestReader{
		br:  bufio.NewReader(lim),
		lim: lim,
	}
}

// Buffered exposes the underlying reader, including any bytes buffered past
// the parsed request. Tunnel relays read from here, not the raw connection.
func (rr *RequestReader) Buffered() *bufio.Reader {
	return rr.br
}

// ReadRequest reads and parses one request. The header byte budget applies
// per call; bodies are not counted against it.
func (rr *RequestReader) ReadRequest() (*ParsedRequest, error) {
	rr.lim.remaining = maxHeaderBytes
	rr.lim.enforced = true
	req, err := http.ReadRequest(rr.br)
	rr.lim.enforced = false
	if err != nil {
		if errors.Is(err, errHeaderBytesExceeded) {
			return nil, NewProxyError(ErrCodeRequestTooLarge, "request headers exceed limit", err)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, NewProxyError(ErrCodeConnectionClosed, "client closed before sending a request", err)
		}
		return nil, NewProxyError(ErrCodeMalformedRequest, "failed to parse request", err)
	}

	parsed := &ParsedRequest{
		Method:    req.Method,
		IsConnect: req.Method == http.MethodConnect,
		Request:   req,
	}
	if parsed.IsConnect {
		// For CONNECT the request target is the authority form.
		parsed.Target = req.Host
		if req.URL != nil && req.URL.Host != "" {
			parsed.Target = req.URL.Host
		}
		if parsed.Target == "" {
			return nil, NewProxyError(ErrCodeInvalidAddress, "CONNECT request carries no authority", nil)
		}
	} else {
		if req.URL == nil || (req.URL.Host == "" && req.Host == "") {
			return nil, NewProxyError(ErrCodeInvalidAddress, "forward request carries no host", nil)
		}
		parsed.Target = req.URL.Host
		if parsed.Target == "" {
			parsed.Target = req.Host
		}
	}
	return parsed, nil
}

// ParsedRequest is a client request with the proxy-relevant fields lifted
// out of the underlying http.Request.
type ParsedRequest struct {
	Method    string
	Target    string
	IsConnect bool
	Request   *http.Request
}

// ProxyAuthorization returns the raw Proxy-Authorization header, or "".
func (p *ParsedRequest) ProxyAuthorization() string {
	return p.Request.Header.Get("Proxy-Authorization")
}

// TargetAddr resolves the host:port the proxy must dial for this request.
// CONNECT targets default to port 443, forwarded requests to port 80.
func (p *ParsedRequest) TargetAddr() (string, error) {
	host := p.Target
	defaultPort := "80"
	if p.IsConnect {
		defaultPort = "443"
	}
	if host == "" {
		return "", NewProxyError(ErrCodeInvalidAddress, "request carries no target host", nil)
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	// Bare IPv6 literals need brackets before a port can be appended.
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return net.JoinHostPort(host, defaultPort), nil
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), defaultPort), nil
}

// TargetHost returns the hostname without any port, for forward-rule
// matching.
func (p *ParsedRequest) TargetHost() string {
	addr, err := p.TargetAddr()
	if err != nil {
		return p.Target
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return p.Target
	}
	return host
}

// sanitizeForwardRequest strips proxy-hop headers from a request before it
// is written upstream, and forces the connection to close after the exchange.
func sanitizeForwardRequest(req *http.Request) {
	req.Header.Del("Proxy-Authorization")
	req.Header.Del("Proxy-Connection")
	req.Header.Set("Connection", "close")
	req.Close = true
}
