package proxy

import (
	"fmt"
)

// Error represents a proxy-specific error with a code and description
type Error struct {
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProxyError creates a new Error with the given code and description
func NewProxyError(code, description string, cause error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Cause:       cause,
	}
}

// Proxy Error Codes
const (
	// Configuration and Initialization Errors (E1000-E1999)
	ErrCodeListenerCreateFailed = "E1001"
	ErrCodeInvalidServerConfig  = "E1002"

	// Connection and Network Errors (E2000-E2999)
	ErrCodeConnectionClosed      = "E2001"
	ErrCodeInvalidAddress        = "E2002"
	ErrCodeUpstreamConnectFailed = "E2003"
	ErrCodeDialFailed            = "E2004"

	// Access Control and Security Errors (E3000-E3999)
	ErrCodeFirewallBlocked      = "E3001"
	ErrCodeAuthenticationFailed = "E3002"

	// Request Processing Errors (E4000-E4999)
	ErrCodeMalformedRequest     = "E4001"
	ErrCodeRequestTooLarge      = "E4002"
	ErrCodeParseTimeout         = "E4003"
	ErrCodeRequestWriteFailed   = "E4004"
	ErrCodeResponseStreamFailed = "E4005"

	// Tunnel and Relay Errors (E5000-E5999)
	ErrCodeTunnelEstablishFailed = "E5001"
	ErrCodeRelayFailed           = "E5002"

	// Proxy Chain and Forwarding Errors (E6000-E6999)
	ErrCodeSOCKS5DialerFailed     = "E6001"
	ErrCodeHTTPProxyConnectFailed = "E6002"
	ErrCodeNoHealthyUpstream      = "E6003"

	// Resource and Limit Errors (E9000-E9999)
	ErrCodeTimeoutExceeded         = "E9001"
	ErrCodeConcurrencyLimitReached = "E9002"

	// Internal and System Errors (E9900-E9999)
	ErrCodeInternalError = "E9901"
)

// ErrorDescriptions maps error codes to human-readable descriptions.
var ErrorDescriptions = map[string]string{
	ErrCodeListenerCreateFailed: "Failed to create network listener",
	ErrCodeInvalidServerConfig:  "Invalid server configuration",

	ErrCodeConnectionClosed:      "Connection closed unexpectedly",
	ErrCodeInvalidAddress:        "Invalid network address format",
	ErrCodeUpstreamConnectFailed: "Failed to connect to upstream server",
	ErrCodeDialFailed:            "Failed to dial target address",

	ErrCodeFirewallBlocked:      "Client IP denied by firewall",
	ErrCodeAuthenticationFailed: "Proxy authentication failed",

	ErrCodeMalformedRequest:     "Malformed HTTP request",
	ErrCodeRequestTooLarge:      "Request header block too large",
	ErrCodeParseTimeout:         "Timed out reading client request",
	ErrCodeRequestWriteFailed:   "Failed to write request to upstream",
	ErrCodeResponseStreamFailed: "Failed to stream upstream response",

	ErrCodeTunnelEstablishFailed: "Failed to establish CONNECT tunnel",
	ErrCodeRelayFailed:           "Tunnel relay failed",

	ErrCodeSOCKS5DialerFailed:     "Failed to create SOCKS5 dialer",
	ErrCodeHTTPProxyConnectFailed: "Upstream HTTP proxy connection failed",
	ErrCodeNoHealthyUpstream:      "No healthy upstream proxy available",

	ErrCodeTimeoutExceeded:         "Operation timeout exceeded",
	ErrCodeConcurrencyLimitReached: "Concurrency limit reached",

	ErrCodeInternalError: "Internal proxy error",
}
