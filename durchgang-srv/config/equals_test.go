package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string {
	return &s
}

func baseConfig() *Config {
	return &Config{
		ListenAddress:            "127.0.0.1:8080",
		Backlog:                  20,
		TimeoutSeconds:           30,
		MaxConcurrentConnections: 20,
		Auth:                     &AuthConfig{Username: "u", Password: "p"},
		Firewall:                 &FirewallConfig{Blocklist: []string{"203.0.113.1"}},
		Forwards: []Forward{
			&ForwardSocks5{Hosts: []string{"*.example.com"}, Address: "socks:1080", Username: strPtr("su")},
		},
		Statistics: StatisticsConfig{Enabled: true, Backend: "sqlite"},
		Dashboard:  DashboardConfig{Enabled: true, ListenAddress: "127.0.0.1:9000"},
	}
}

func TestHasChanged(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   bool
	}{
		{"identical", func(c *Config) {}, false},
		{"listen address", func(c *Config) { c.ListenAddress = "0.0.0.0:8080" }, true},
		{"backlog", func(c *Config) { c.Backlog = 40 }, true},
		{"timeout", func(c *Config) { c.TimeoutSeconds = 60 }, true},
		{"max connections", func(c *Config) { c.MaxConcurrentConnections = 5 }, true},
		{"debug", func(c *Config) { c.Debug = true }, true},
		{"auth password", func(c *Config) { c.Auth.Password = "other" }, true},
		{"auth removed", func(c *Config) { c.Auth = nil }, true},
		{"firewall entry", func(c *Config) { c.Firewall.Blocklist = []string{"203.0.113.2"} }, true},
		{"firewall removed", func(c *Config) { c.Firewall = nil }, true},
		{"forward address", func(c *Config) {
			c.Forwards[0] = &ForwardSocks5{Hosts: []string{"*.example.com"}, Address: "other:1080", Username: strPtr("su")}
		}, true},
		{"forward type", func(c *Config) {
			c.Forwards[0] = &ForwardDefaultNetwork{Hosts: []string{"*.example.com"}}
		}, true},
		{"forward removed", func(c *Config) { c.Forwards = nil }, true},
		{"statistics backend", func(c *Config) { c.Statistics.Backend = "postgres" }, true},
		{"dashboard address", func(c *Config) { c.Dashboard.ListenAddress = "127.0.0.1:9001" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := baseConfig()
			b := baseConfig()
			tt.mutate(b)
			assert.Equal(t, tt.want, HasChanged(a, b))
		})
	}
}

func TestHasChangedNil(t *testing.T) {
	cfg := baseConfig()
	assert.False(t, HasChanged(nil, nil))
	assert.True(t, HasChanged(cfg, nil))
	assert.True(t, HasChanged(nil, cfg))
}

func TestForwardEqualUsernamePointer(t *testing.T) {
	a := &ForwardSocks5{Address: "socks:1080", Username: strPtr("u")}
	b := &ForwardSocks5{Address: "socks:1080", Username: strPtr("u")}
	assert.True(t, forwardEqual(a, b), "equal values behind different pointers")

	b.Username = strPtr("other")
	assert.False(t, forwardEqual(a, b))

	b.Username = nil
	assert.False(t, forwardEqual(a, b))
}
