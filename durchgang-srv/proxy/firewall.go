package proxy

import (
	"github.com/codefionn/durchgang/durchgang-srv/config"
	"github.com/codefionn/durchgang/durchgang-srv/logger"
)

// Decision is the access-control verdict for a client IP.
type Decision int

const (
	// DecisionBlocked closes the connection without writing any response.
	DecisionBlocked Decision = iota
	// DecisionAllowedNoAuth admits the connection without credentials.
	DecisionAllowedNoAuth
	// DecisionAllowedAuthRequired admits the connection only with valid
	// proxy credentials.
	DecisionAllowedAuthRequired
)

func (d Decision) String() string {
	switch d {
	case DecisionBlocked:
		return "blocked"
	case DecisionAllowedNoAuth:
		return "allowed"
	case DecisionAllowedAuthRequired:
		return "auth-required"
	default:
		return "unknown"
	}
}

// Firewall decides admission for client IPs. Decisions are pure functions of
// the compiled rule sets; the firewall holds no mutable state after
// construction and is safe for concurrent use.
type Firewall struct {
	allowlist      map[string]struct{}
	blocklist      map[string]struct{}
	noAuthRequired map[string]struct{}
	authConfigured bool
}

// NewFirewall compiles the configured rule sets. cfg may be nil, meaning no
// IP restriction: every client is admitted, with auth required iff a
// credential is configured.
func NewFirewall(cfg *config.FirewallConfig, authConfigured bool) *Firewall {
	f := &Firewall{
		allowlist:      make(map[string]struct{}),
		blocklist:      make(map[string]struct{}),
		noAuthRequired: make(map[string]struct{}),
		authConfigured: authConfigured,
	}
	if cfg == nil {
		return f
	}

	for _, ip := range cfg.Allowlist {
		f.allowlist[ip] = struct{}{}
	}
	for _, ip := range cfg.Blocklist {
		f.blocklist[ip] = struct{}{}
	}
	for _, ip := range cfg.NoAuthRequired {
		f.noAuthRequired[ip] = struct{}{}
	}

	// Overlap with the blocklist is legal but almost always an operator
	// mistake: the blocklist wins unconditionally.
	for ip := range f.blocklist {
		if _, ok := f.allowlist[ip]; ok {
			logger.Warn("Firewall: %s is in both blocklist and allowlist; blocklist wins", ip)
		}
		if _, ok := f.noAuthRequired[ip]; ok {
			logger.Warn("Firewall: %s is in both blocklist and no-auth-required; blocklist wins", ip)
		}
	}

	return f
}

// Decide applies the fixed rule precedence to a client IP:
// blocklist, then allowlist restriction, then no-auth exemption, then the
// configured auth requirement.
func (f *Firewall) Decide(clientIP string) Decision {
	if _, blocked := f.blocklist[clientIP]; blocked {
		return DecisionBlocked
	}

	if len(f.allowlist) > 0 {
		if _, allowed := f.allowlist[clientIP]; !allowed {
			return DecisionBlocked
		}
	}

	if _, exempt := f.noAuthRequired[clientIP]; exempt {
		return DecisionAllowedNoAuth
	}

	if f.authConfigured {
		return DecisionAllowedAuthRequired
	}

	return DecisionAllowedNoAuth
}
