package config

import (
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// hclConfig mirrors Config for gohcl decoding. Scalars are pointers so that
// absent attributes keep the defaults already applied to the Config.
type hclConfig struct {
	ListenAddress            *string           `hcl:"listen-address,optional"`
	Backlog                  *int              `hcl:"backlog,optional"`
	TimeoutSeconds           *int              `hcl:"timeout-seconds,optional"`
	MaxConcurrentConnections *int              `hcl:"max-concurrent-connections,optional"`
	Debug                    *bool             `hcl:"debug,optional"`
	Auth                     *hclAuth          `hcl:"auth,block"`
	Firewall                 *hclFirewall      `hcl:"firewall,block"`
	Forwards                 []hclForward      `hcl:"forward,block"`
	Statistics               *StatisticsConfig `hcl:"statistics,block"`
	Dashboard                *DashboardConfig  `hcl:"dashboard,block"`
}

type hclAuth struct {
	Username string `hcl:"username"`
	Password string `hcl:"password"`
}

type hclFirewall struct {
	Allowlist      []string `hcl:"allowlist,optional"`
	Blocklist      []string `hcl:"blocklist,optional"`
	NoAuthRequired []string `hcl:"no-auth-required,optional"`
}

type hclForward struct {
	Kind      string   `hcl:"type,label"`
	Hosts     []string `hcl:"hosts,optional"`
	Address   *string  `hcl:"address,optional"`
	Addresses []string `hcl:"addresses,optional"`
	Username  *string  `hcl:"username,optional"`
	Password  *string  `hcl:"password,optional"`
}

func loadHCLConfig(configPath string, cfg *Config) error {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}

	var raw hclConfig
	if err := hclsimple.DecodeFile(cleanPath, nil, &raw); err != nil {
		return fmt.Errorf("failed to decode HCL config: %w", err)
	}

	if raw.ListenAddress != nil {
		cfg.ListenAddress = *raw.ListenAddress
	}
	if raw.Backlog != nil {
		cfg.Backlog = *raw.Backlog
	}
	if raw.TimeoutSeconds != nil {
		cfg.TimeoutSeconds = *raw.TimeoutSeconds
	}
	if raw.MaxConcurrentConnections != nil {
		cfg.MaxConcurrentConnections = *raw.MaxConcurrentConnections
	}
	if raw.Debug != nil {
		cfg.Debug = *raw.Debug
	}

	if raw.Auth != nil {
		cfg.Auth = &AuthConfig{
			Username: raw.Auth.Username,
			Password: raw.Auth.Password,
		}
	}

	if raw.Firewall != nil {
		cfg.Firewall = &FirewallConfig{
			Allowlist:      raw.Firewall.Allowlist,
			Blocklist:      raw.Firewall.Blocklist,
			NoAuthRequired: raw.Firewall.NoAuthRequired,
		}
	}

	if len(raw.Forwards) > 0 {
		cfg.Forwards = nil
		for _, fwd := range raw.Forwards {
			converted, err := convertHCLForward(fwd)
			if err != nil {
				return err
			}
			cfg.Forwards = append(cfg.Forwards, converted)
		}
	}

	if raw.Statistics != nil {
		cfg.Statistics = *raw.Statistics
	}
	if raw.Dashboard != nil {
		cfg.Dashboard = *raw.Dashboard
	}

	return nil
}

func convertHCLForward(fwd hclForward) (Forward, error) {
	switch fwd.Kind {
	case "default-network":
		return &ForwardDefaultNetwork{Hosts: fwd.Hosts}, nil

	case "socks5":
		if fwd.Address == nil {
			return nil, fmt.Errorf("socks5 forward requires address field")
		}
		return &ForwardSocks5{
			Hosts:    fwd.Hosts,
			Address:  *fwd.Address,
			Username: fwd.Username,
			Password: fwd.Password,
		}, nil

	case "proxy":
		addresses := fwd.Addresses
		if len(addresses) == 0 {
			if fwd.Address == nil {
				return nil, fmt.Errorf("proxy forward requires address or addresses field")
			}
			addresses = []string{*fwd.Address}
		}
		return &ForwardProxy{
			Hosts:     fwd.Hosts,
			Addresses: addresses,
			Username:  fwd.Username,
			Password:  fwd.Password,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported forward type: %s", fwd.Kind)
	}
}
