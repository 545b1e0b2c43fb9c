package config

// HasChanged returns true if the configuration has changed compared to
// another config. This implementation explicitly compares all fields without
// using reflection.
func HasChanged(a, b *Config) bool {
	if a == nil || b == nil {
		return a != b
	}
	if a.ListenAddress != b.ListenAddress ||
		a.Backlog != b.Backlog ||
		a.TimeoutSeconds != b.TimeoutSeconds ||
		a.MaxConcurrentConnections != b.MaxConcurrentConnections ||
		a.Debug != b.Debug {
		return true
	}
	if !authEqual(a.Auth, b.Auth) {
		return true
	}
	if !firewallEqual(a.Firewall, b.Firewall) {
		return true
	}
	if !forwardsSliceEqual(a.Forwards, b.Forwards) {
		return true
	}
	if a.Statistics != b.Statistics {
		return true
	}
	if a.Dashboard != b.Dashboard {
		return true
	}
	return false
}

func authEqual(a, b *AuthConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Username == b.Username && a.Password == b.Password
}

func firewallEqual(a, b *FirewallConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return stringSliceEqual(a.Allowlist, b.Allowlist) &&
		stringSliceEqual(a.Blocklist, b.Blocklist) &&
		stringSliceEqual(a.NoAuthRequired, b.NoAuthRequired)
}

func forwardsSliceEqual(a, b []Forward) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !forwardEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func forwardEqual(a, b Forward) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}
	switch ta := a.(type) {
	case *ForwardDefaultNetwork:
		tb, ok := b.(*ForwardDefaultNetwork)
		return ok && stringSliceEqual(ta.Hosts, tb.Hosts)
	case *ForwardSocks5:
		tb, ok := b.(*ForwardSocks5)
		return ok && ta.Address == tb.Address &&
			stringSliceEqual(ta.Hosts, tb.Hosts) &&
			stringPtrEqual(ta.Username, tb.Username) &&
			stringPtrEqual(ta.Password, tb.Password)
	case *ForwardProxy:
		tb, ok := b.(*ForwardProxy)
		return ok && stringSliceEqual(ta.Addresses, tb.Addresses) &&
			stringSliceEqual(ta.Hosts, tb.Hosts) &&
			stringPtrEqual(ta.Username, tb.Username) &&
			stringPtrEqual(ta.Password, tb.Password)
	default:
		return false
	}
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
