package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/durchgang/durchgang-srv/logger"
)

// Default values applied before any file or environment override.
const (
	DefaultListenAddress  = "0.0.0.0:8080"
	DefaultBacklog        = 20
	DefaultMaxConnections = 20
	DefaultTimeoutSeconds = 30
)

// AuthConfig holds the single proxy credential. The proxy has at most one
// identity; there is no multi-user store.
type AuthConfig struct {
	Username string
	Password string
}

// FirewallConfig holds the three client IP rule sets. An empty allowlist
// means no restriction; a non-empty one admits only the listed IPs. The
// blocklist always wins over the other two sets.
type FirewallConfig struct {
	Allowlist      []string
	Blocklist      []string
	NoAuthRequired []string
}

// StatisticsConfig defines settings for the statistics collector
type StatisticsConfig struct {
	Enabled       bool   `json:"enabled" hcl:"enabled,optional"`
	Backend       string `json:"backend" hcl:"backend,optional"`
	SQLitePath    string `json:"sqlite-path" hcl:"sqlite-path,optional"`
	PostgresDSN   string `json:"postgres-dsn" hcl:"postgres-dsn,optional"`
	FlushInterval int    `json:"flush-interval" hcl:"flush-interval,optional"`
}

// DashboardConfig defines settings for the JSON status API
type DashboardConfig struct {
	Enabled       bool   `json:"enabled" hcl:"enabled,optional"`
	ListenAddress string `json:"listen-address" hcl:"listen-address,optional"`
}

// Config represents the main configuration structure for the proxy server.
// It is built once at startup and read-only afterwards; a config reload
// constructs a new instance.
type Config struct {
	ListenAddress            string // Address to listen on (host:port)
	Backlog                  int    // Requested accept queue depth
	TimeoutSeconds           int    // Per-operation network timeout
	MaxConcurrentConnections int    // Admission cap for in-flight connections
	Debug                    bool   // Debug mode shortens timeouts and raises log verbosity
	Auth                     *AuthConfig
	Firewall                 *FirewallConfig
	Forwards                 []Forward
	Statistics               StatisticsConfig
	Dashboard                DashboardConfig
}

// Timeout returns the configured per-operation timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ForwardType defines the type of forwarding rule.
type ForwardType int

const (
	// ForwardTypeDefaultNetwork represents the default network forwarding type.
	ForwardTypeDefaultNetwork ForwardType = iota
	// ForwardTypeSocks5 represents SOCKS5 proxy forwarding.
	ForwardTypeSocks5
	// ForwardTypeProxy represents HTTP proxy forwarding.
	ForwardTypeProxy
)

// Forward defines the interface for forwarding configurations.
type Forward interface {
	Type() ForwardType
	// HostPatterns returns the target host patterns this rule applies to.
	// A pattern is either an exact host or a "*." suffix wildcard. An empty
	// list matches every host.
	HostPatterns() []string
}

// ForwardDefaultNetwork dials targets directly on the default network.
type ForwardDefaultNetwork struct {
	Hosts []string
}

func (c *ForwardDefaultNetwork) Type() ForwardType {
	return ForwardTypeDefaultNetwork
}

func (c *ForwardDefaultNetwork) HostPatterns() []string {
	return c.Hosts
}

// ForwardSocks5 dials targets through a SOCKS5 proxy.
type ForwardSocks5 struct {
	Hosts    []string
	Address  string
	Username *string
	Password *string
}

func (c *ForwardSocks5) Type() ForwardType {
	return ForwardTypeSocks5
}

func (c *ForwardSocks5) HostPatterns() []string {
	return c.Hosts
}

// ForwardProxy chains targets through one or more upstream HTTP proxies via
// CONNECT. More than one address makes the rule a pool: upstreams are
// health-checked and picked by load.
type ForwardProxy struct {
	Hosts     []string
	Addresses []string
	Username  *string
	Password  *string
}

func (c *ForwardProxy) Type() ForwardType {
	return ForwardTypeProxy
}

func (c *ForwardProxy) HostPatterns() []string {
	return c.Hosts
}

// LoadConfig loads configuration from the specified file path. Path may be
// empty, in which case only defaults and environment variables apply.
// Supported file formats: .json and .hcl.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		ListenAddress:            DefaultListenAddress,
		Backlog:                  DefaultBacklog,
		TimeoutSeconds:           DefaultTimeoutSeconds,
		MaxConcurrentConnections: DefaultMaxConnections,
	}

	// Apply environment variables
	loadConfigFromEnv(cfg)

	// If config file exists, load it
	if configPath != "" {
		var err error

		ext := filepath.Ext(configPath)
		switch strings.ToLower(ext) {
		case ".json":
			err = loadJSONConfig(configPath, cfg)
		case ".hcl":
			err = loadHCLConfig(configPath, cfg)
		default:
			return nil, fmt.Errorf("unsupported config file format: %s", ext)
		}

		if err != nil {
			return nil, err
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.MaxConcurrentConnections <= 0 {
		return fmt.Errorf("max-concurrent-connections must be positive, got %d", cfg.MaxConcurrentConnections)
	}
	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout-seconds must be positive, got %d", cfg.TimeoutSeconds)
	}
	if cfg.Auth != nil && (cfg.Auth.Username == "" || cfg.Auth.Password == "") {
		return fmt.Errorf("auth requires both username and password")
	}
	if cfg.Backlog < cfg.MaxConcurrentConnections {
		logger.Warn("The backlog (%d) is smaller than max concurrent connections (%d)",
			cfg.Backlog, cfg.MaxConcurrentConnections)
	}
	return nil
}

func loadJSONConfig(configPath string, cfg *Config) error {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}
	file, err := os.Open(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	// Decode into a map first to handle the hyphenated keys
	var data map[string]any
	err = json.NewDecoder(file).Decode(&data)
	if err != nil {
		return fmt.Errorf("failed to decode JSON config: %w", err)
	}

	if val, exists := data["listen-address"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("listen-address must be a string: %w", err)
		}
		cfg.ListenAddress = *ptr
	}

	if val, exists := data["backlog"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("backlog must be a number: %w", err)
		}
		cfg.Backlog = *ptr
	}

	if val, exists := data["timeout-seconds"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("timeout-seconds must be a number: %w", err)
		}
		cfg.TimeoutSeconds = *ptr
	}

	if val, exists := data["max-concurrent-connections"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("max-concurrent-connections must be a number: %w", err)
		}
		cfg.MaxConcurrentConnections = *ptr
	}

	if val, exists := data["debug"]; exists {
		ptr, err := parseValue[bool](val)
		if err != nil {
			return fmt.Errorf("debug must be a boolean: %w", err)
		}
		cfg.Debug = *ptr
	}

	if val, exists := data["auth"]; exists {
		authMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("auth must be an object")
		}
		auth := &AuthConfig{}
		username, err := parseValue[string](authMap["username"])
		if err != nil {
			return fmt.Errorf("auth username: %w", err)
		}
		auth.Username = *username
		password, err := parseValue[string](authMap["password"])
		if err != nil {
			return fmt.Errorf("auth password: %w", err)
		}
		auth.Password = *password
		cfg.Auth = auth
	}

	if val, exists := data["firewall"]; exists {
		fwMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("firewall must be an object")
		}
		fw := &FirewallConfig{}
		if fw.Allowlist, err = parseStringList(fwMap["allowlist"]); err != nil {
			return fmt.Errorf("firewall allowlist: %w", err)
		}
		if fw.Blocklist, err = parseStringList(fwMap["blocklist"]); err != nil {
			return fmt.Errorf("firewall blocklist: %w", err)
		}
		if fw.NoAuthRequired, err = parseStringList(fwMap["no-auth-required"]); err != nil {
			return fmt.Errorf("firewall no-auth-required: %w", err)
		}
		cfg.Firewall = fw
	}

	// Parse forwards if present
	if forwards, ok := data["forwards"].([]any); ok && forwards != nil {
		cfg.Forwards = nil

		for _, forward := range forwards {
			forwardMap, ok := forward.(map[string]any)
			if !ok {
				return fmt.Errorf("invalid forward format")
			}

			newForward, err := parseForward(forwardMap)
			if err != nil {
				return err
			}

			cfg.Forwards = append(cfg.Forwards, newForward)
		}
	}

	if val, exists := data["statistics"]; exists {
		statsMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("statistics must be an object")
		}
		if err := parseStatistics(statsMap, &cfg.Statistics); err != nil {
			return err
		}
	}

	if val, exists := data["dashboard"]; exists {
		dashMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("dashboard must be an object")
		}
		if enabled, exists := dashMap["enabled"]; exists {
			ptr, err := parseValue[bool](enabled)
			if err != nil {
				return fmt.Errorf("dashboard enabled must be a boolean: %w", err)
			}
			cfg.Dashboard.Enabled = *ptr
		}
		if addr, exists := dashMap["listen-address"]; exists {
			ptr, err := parseValue[string](addr)
			if err != nil {
				return fmt.Errorf("dashboard listen-address must be a string: %w", err)
			}
			cfg.Dashboard.ListenAddress = *ptr
		}
	}

	return nil
}

func parseForward(forwardMap map[string]any) (Forward, error) {
	forwardType, ok := forwardMap["type"].(string)
	if !ok {
		return nil, fmt.Errorf("missing forward type")
	}

	hosts, err := parseStringList(forwardMap["hosts"])
	if err != nil {
		return nil, fmt.Errorf("forward hosts: %w", err)
	}

	switch forwardType {
	case "default-network":
		return &ForwardDefaultNetwork{Hosts: hosts}, nil

	case "socks5":
		socks5Forward := &ForwardSocks5{Hosts: hosts}
		if address, err := parseValue[string](forwardMap["address"]); err == nil {
			socks5Forward.Address = *address
		} else {
			return nil, fmt.Errorf("socks5 forward requires address field")
		}

		if username, err := parseValue[string](forwardMap["username"]); err == nil {
			socks5Forward.Username = username
		}

		if password, err := parseValue[string](forwardMap["password"]); err == nil {
			socks5Forward.Password = password
		}

		return socks5Forward, nil

	case "proxy":
		proxyForward := &ForwardProxy{Hosts: hosts}
		if addresses, err := parseStringList(forwardMap["addresses"]); err == nil && len(addresses) > 0 {
			proxyForward.Addresses = addresses
		} else if address, err := parseValue[string](forwardMap["address"]); err == nil {
			proxyForward.Addresses = []string{*address}
		} else {
			return nil, fmt.Errorf("proxy forward requires address or addresses field")
		}

		if username, err := parseValue[string](forwardMap["username"]); err == nil {
			proxyForward.Username = username
		}

		if password, err := parseValue[string](forwardMap["password"]); err == nil {
			proxyForward.Password = password
		}

		return proxyForward, nil

	default:
		return nil, fmt.Errorf("unsupported forward type: %s", forwardType)
	}
}

func parseStatistics(statsMap map[string]any, out *StatisticsConfig) error {
	if val, exists := statsMap["enabled"]; exists {
		ptr, err := parseValue[bool](val)
		if err != nil {
			return fmt.Errorf("statistics enabled must be a boolean: %w", err)
		}
		out.Enabled = *ptr
	}
	if val, exists := statsMap["backend"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("statistics backend must be a string: %w", err)
		}
		out.Backend = *ptr
	}
	if val, exists := statsMap["sqlite-path"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("statistics sqlite-path must be a string: %w", err)
		}
		out.SQLitePath = *ptr
	}
	if val, exists := statsMap["postgres-dsn"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("statistics postgres-dsn must be a string: %w", err)
		}
		out.PostgresDSN = *ptr
	}
	if val, exists := statsMap["flush-interval"]; exists {
		ptr, err := parseValue[int](val)
		if err != nil {
			return fmt.Errorf("statistics flush-interval must be a number: %w", err)
		}
		out.FlushInterval = *ptr
	}
	return nil
}

// parseStringList accepts a JSON array of strings. A nil value yields a nil
// slice without error so optional lists stay optional.
func parseStringList(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of strings, got %T", value)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		ptr, err := parseValue[string](item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, *ptr)
	}
	return out, nil
}

func parseValue[T any](value any) (*T, error) {
	var zero T
	tType := reflect.TypeOf(zero)
	ptr := reflect.New(tType)
	elem := ptr.Elem()

	// Secret-case: retrieve env var
	if m, ok := value.(map[string]any); ok {
		if key, ok := m["_secret"].(string); ok {
			res := os.Getenv(key)
			if res == "" {
				return nil, fmt.Errorf("secret %s not set", key)
			}
			value = res
		}
	}

	switch v := value.(type) {
	case float64:
		// JSON number
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(v)
		default:
			return nil, fmt.Errorf("expected %T, got JSON number", zero)
		}
	case string:
		switch elem.Kind() {
		case reflect.String:
			elem.SetString(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(v, 10, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse int: %w", err)
			}
			elem.SetInt(i)
		case reflect.Float32, reflect.Float64:
			f, err := strconv.ParseFloat(v, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse float: %w", err)
			}
			elem.SetFloat(f)
		case reflect.Bool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("failed to parse bool: %w", err)
			}
			elem.SetBool(b)
		default:
			return nil, fmt.Errorf("expected %T, got string", zero)
		}
	case bool:
		if elem.Kind() == reflect.Bool {
			elem.SetBool(v)
		} else {
			return nil, fmt.Errorf("expected %T, got bool", zero)
		}
	default:
		// direct-case: cast
		if rv, ok := value.(T); ok {
			return &rv, nil
		}
		return nil, fmt.Errorf("expected %T, got %T", zero, value)
	}
	return ptr.Interface().(*T), nil
}

func loadConfigFromEnv(cfg *Config) {
	if addr := os.Getenv("DURCHGANG_LISTENADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}

	if backlogStr := os.Getenv("DURCHGANG_BACKLOG"); backlogStr != "" {
		if backlog, err := strconv.Atoi(backlogStr); err == nil {
			cfg.Backlog = backlog
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Invalid format for DURCHGANG_BACKLOG: %s\n", backlogStr)
		}
	}

	if timeoutStr := os.Getenv("DURCHGANG_TIMEOUTSECONDS"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.TimeoutSeconds = timeout
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Invalid format for DURCHGANG_TIMEOUTSECONDS: %s\n", timeoutStr)
		}
	}

	if maxConnStr := os.Getenv("DURCHGANG_MAXCONCURRENTCONNECTIONS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			cfg.MaxConcurrentConnections = maxConn
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Invalid format for DURCHGANG_MAXCONCURRENTCONNECTIONS: %s\n", maxConnStr)
		}
	}

	if debugStr := os.Getenv("DURCHGANG_DEBUG"); debugStr != "" {
		cfg.Debug = strings.EqualFold(debugStr, "true") || debugStr == "1"
	}

	username := os.Getenv("DURCHGANG_USERNAME")
	password := os.Getenv("DURCHGANG_PASSWORD")
	if username != "" && password != "" {
		cfg.Auth = &AuthConfig{Username: username, Password: password}
	}

	allowlist := splitEnvList(os.Getenv("DURCHGANG_ALLOWLIST"))
	blocklist := splitEnvList(os.Getenv("DURCHGANG_BLOCKLIST"))
	noAuth := splitEnvList(os.Getenv("DURCHGANG_NOAUTHREQUIRED"))
	if len(allowlist) > 0 || len(blocklist) > 0 || len(noAuth) > 0 {
		cfg.Firewall = &FirewallConfig{
			Allowlist:      allowlist,
			Blocklist:      blocklist,
			NoAuthRequired: noAuth,
		}
	}
}

// splitEnvList splits a comma-separated environment value into trimmed,
// non-empty entries.
func splitEnvList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
