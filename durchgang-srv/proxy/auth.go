package proxy

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/codefionn/durchgang/durchgang-srv/config"
)

// AuthResult is the outcome of validating a Proxy-Authorization header.
type AuthResult int

const (
	// AuthValid means the header carried the configured credential.
	AuthValid AuthResult = iota
	// AuthInvalid means the header decoded to the wrong credential.
	AuthInvalid
	// AuthMissing means no usable Proxy-Authorization header was sent,
	// either absent entirely or not a decodable Basic value.
	AuthMissing
)

func (r AuthResult) String() string {
	switch r {
	case AuthValid:
		return "valid"
	case AuthInvalid:
		return "invalid"
	case AuthMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Authenticator validates HTTP Basic proxy credentials against the single
// configured username/password pair.
type Authenticator struct {
	expected []byte
}

// NewAuthenticator builds a validator for the configured credential. cfg may
// be nil, meaning no authentication is configured; Validate then accepts
// everything.
func NewAuthenticator(cfg *config.AuthConfig) *Authenticator {
	a := &Authenticator{}
	if cfg != nil && cfg.Username != "" {
		a.expected = []byte(cfg.Username + ":" + cfg.Password)
	}
	return a
}

// Configured reports whether a credential is set.
func (a *Authenticator) Configured() bool {
	return a.expected != nil
}

// Validate checks a Proxy-Authorization header value. The scheme comparison
// is case-insensitive; the credential comparison is constant-time.
func (a *Authenticator) Validate(header string) AuthResult {
	if !a.Configured() {
		return AuthValid
	}
	if header == "" {
		return AuthMissing
	}

	// A header that is not a decodable Basic value carries no credential at
	// all, so it counts as missing rather than invalid.
	scheme, encoded, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return AuthMissing
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return AuthMissing
	}

	if subtle.ConstantTimeCompare(decoded, a.expected) == 1 {
		return AuthValid
	}
	return AuthInvalid
}
