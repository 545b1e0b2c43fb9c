package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	socks5 "github.com/armon/go-socks5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/durchgang/durchgang-srv/config"
)

func TestMatchHostPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		host    string
		want    bool
	}{
		{"exact match", "example.com", "example.com", true},
		{"exact mismatch", "example.com", "example.org", false},
		{"case insensitive", "Example.COM", "example.com", true},
		{"wildcard all", "*", "anything.at.all", true},
		{"subdomain wildcard matches subdomain", "*.example.com", "api.example.com", true},
		{"subdomain wildcard matches apex", "*.example.com", "example.com", true},
		{"subdomain wildcard matches deep subdomain", "*.example.com", "a.b.example.com", true},
		{"subdomain wildcard rejects other domain", "*.example.com", "evilexample.com", false},
		{"subdomain wildcard rejects suffix trick", "*.example.com", "notexample.com", false},
		{"ip exact", "10.0.0.1", "10.0.0.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchHostPattern(tt.pattern, tt.host))
		})
	}
}

func TestSelectForward(t *testing.T) {
	socksRule := &config.ForwardSocks5{
		Hosts:   []string{"*.internal.example.com"},
		Address: "socks.example.com:1080",
	}
	proxyRule := &config.ForwardProxy{
		Hosts:     []string{"blocked.example.com"},
		Addresses: []string{"upstream.example.com:8080"},
	}
	catchAll := &config.ForwardDefaultNetwork{}

	d := NewDialer([]config.Forward{socksRule, proxyRule, catchAll}, time.Second)

	assert.Same(t, config.Forward(socksRule), d.selectForward("db.internal.example.com"))
	assert.Same(t, config.Forward(proxyRule), d.selectForward("blocked.example.com"))
	// First rule wins even when a later one would also match.
	assert.Same(t, config.Forward(socksRule), d.selectForward("internal.example.com"))
	// An empty pattern list matches everything that got past earlier rules.
	assert.Same(t, config.Forward(catchAll), d.selectForward("unrelated.example.org"))
}

func TestSelectForwardNoRules(t *testing.T) {
	d := NewDialer(nil, time.Second)
	assert.Nil(t, d.selectForward("example.com"))
}

func TestDialTargetDirect(t *testing.T) {
	echoAddr := startEchoServer(t)
	d := NewDialer(nil, 5*time.Second)

	conn, err := d.DialTarget(context.Background(), echoAddr)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()

	_, err = conn.Write([]byte("direct"))
	require.NoError(t, err)
	buf := make([]byte, 6)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "direct", string(buf))
}

func TestDialTargetInvalidAddress(t *testing.T) {
	d := NewDialer(nil, time.Second)
	_, err := d.DialTarget(context.Background(), "no-port-here")
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeInvalidAddress, perr.Code)
}

func TestDialTargetSocks5(t *testing.T) {
	socksServer, err := socks5.New(&socks5.Config{})
	require.NoError(t, err)
	socksLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = socksLn.Close()
	})
	go func() {
		_ = socksServer.Serve(socksLn)
	}()

	echoAddr := startEchoServer(t)
	d := NewDialer([]config.Forward{
		&config.ForwardSocks5{Address: socksLn.Addr().String()},
	}, 5*time.Second)

	conn, err := d.DialTarget(context.Background(), echoAddr)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()

	payload := []byte("through socks5")
	_, err = conn.Write(payload)
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestDialTargetHTTPProxyChain(t *testing.T) {
	// The upstream hop is a second instance of this proxy.
	_, upstreamAddr := startTestProxy(t, testConfig())
	echoAddr := startEchoServer(t)

	d := NewDialer([]config.Forward{
		&config.ForwardProxy{Addresses: []string{upstreamAddr}},
	}, 5*time.Second)

	conn, err := d.DialTarget(context.Background(), echoAddr)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()

	payload := []byte("through upstream proxy")
	_, err = conn.Write(payload)
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestDialTargetHTTPProxyAllDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d := NewDialer([]config.Forward{
		&config.ForwardProxy{Addresses: []string{deadAddr}},
	}, time.Second)

	_, err = d.DialTarget(context.Background(), "example.com:443")
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeNoHealthyUpstream, perr.Code)
}
