package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigHCL(t *testing.T) {
	path := writeConfigFile(t, "config.hcl", `
listen-address = "127.0.0.1:7070"
backlog = 30
timeout-seconds = 15
max-concurrent-connections = 60
debug = true

auth {
  username = "hcluser"
  password = "hclpass"
}

firewall {
  allowlist        = ["10.1.0.0"]
  blocklist        = ["198.51.100.7"]
  no-auth-required = ["127.0.0.1"]
}

statistics {
  enabled        = true
  backend        = "sqlite"
  sqlite-path    = "/tmp/hcl_stats.db"
  flush-interval = 3
}

dashboard {
  enabled        = true
  listen-address = "127.0.0.1:7071"
}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7070", cfg.ListenAddress)
	assert.Equal(t, 30, cfg.Backlog)
	assert.Equal(t, 15, cfg.TimeoutSeconds)
	assert.Equal(t, 60, cfg.MaxConcurrentConnections)
	assert.True(t, cfg.Debug)

	require.NotNil(t, cfg.Auth)
	assert.Equal(t, "hcluser", cfg.Auth.Username)
	assert.Equal(t, "hclpass", cfg.Auth.Password)

	require.NotNil(t, cfg.Firewall)
	assert.Equal(t, []string{"198.51.100.7"}, cfg.Firewall.Blocklist)

	assert.True(t, cfg.Statistics.Enabled)
	assert.Equal(t, "/tmp/hcl_stats.db", cfg.Statistics.SQLitePath)
	assert.Equal(t, 3, cfg.Statistics.FlushInterval)

	assert.True(t, cfg.Dashboard.Enabled)
	assert.Equal(t, "127.0.0.1:7071", cfg.Dashboard.ListenAddress)
}

func TestLoadConfigHCLDefaultsKept(t *testing.T) {
	// Absent attributes must not clobber defaults.
	path := writeConfigFile(t, "config.hcl", `listen-address = "127.0.0.1:7070"`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.ListenAddress)
	assert.Equal(t, DefaultBacklog, cfg.Backlog)
	assert.Equal(t, DefaultTimeoutSeconds, cfg.TimeoutSeconds)
	assert.Equal(t, DefaultMaxConnections, cfg.MaxConcurrentConnections)
}

func TestLoadConfigHCLForwards(t *testing.T) {
	path := writeConfigFile(t, "config.hcl", `
forward "socks5" {
  hosts    = ["*.internal.example.com"]
  address  = "socks.example.com:1080"
  username = "socksuser"
  password = "sockspass"
}

forward "proxy" {
  hosts     = ["blocked.example.com"]
  addresses = ["up1.example.com:8080", "up2.example.com:8080"]
}

forward "default-network" {}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Forwards, 3)

	socks, ok := cfg.Forwards[0].(*ForwardSocks5)
	require.True(t, ok)
	assert.Equal(t, "socks.example.com:1080", socks.Address)
	require.NotNil(t, socks.Username)
	assert.Equal(t, "socksuser", *socks.Username)

	proxy, ok := cfg.Forwards[1].(*ForwardProxy)
	require.True(t, ok)
	assert.Len(t, proxy.Addresses, 2)

	_, ok = cfg.Forwards[2].(*ForwardDefaultNetwork)
	assert.True(t, ok)
}

func TestLoadConfigHCLSingleProxyAddress(t *testing.T) {
	path := writeConfigFile(t, "config.hcl", `
forward "proxy" {
  address = "up.example.com:8080"
}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Forwards, 1)
	proxy, ok := cfg.Forwards[0].(*ForwardProxy)
	require.True(t, ok)
	assert.Equal(t, []string{"up.example.com:8080"}, proxy.Addresses)
}

func TestLoadConfigHCLInvalidForward(t *testing.T) {
	path := writeConfigFile(t, "config.hcl", `
forward "socks5" {
  hosts = ["a.example.com"]
}
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address")
}

func TestLoadConfigHCLMalformed(t *testing.T) {
	path := writeConfigFile(t, "config.hcl", `listen-address = `)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
