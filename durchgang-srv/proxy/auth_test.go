package proxy

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codefionn/durchgang/durchgang-srv/config"
)

func basicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func TestAuthenticatorValidate(t *testing.T) {
	auth := NewAuthenticator(&config.AuthConfig{Username: "proxy", Password: "s3cret"})

	tests := []struct {
		name     string
		header   string
		expected AuthResult
	}{
		{"correct credentials", basicAuthHeader("proxy", "s3cret"), AuthValid},
		{"lowercase scheme", "basic " + base64.StdEncoding.EncodeToString([]byte("proxy:s3cret")), AuthValid},
		{"wrong password", basicAuthHeader("proxy", "wrong"), AuthInvalid},
		{"wrong username", basicAuthHeader("other", "s3cret"), AuthInvalid},
		{"missing header", "", AuthMissing},
		{"wrong scheme", "Bearer abcdef", AuthMissing},
		{"not base64", "Basic not-base64!!!", AuthMissing},
		{"undecodable payload", "Basic !!!not-base64", AuthMissing},
		{"no separator", "Basiconly", AuthMissing},
		{"empty credential", basicAuthHeader("", ""), AuthInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.Validate(tt.header))
		})
	}
}

func TestAuthenticatorUnconfigured(t *testing.T) {
	for _, cfg := range []*config.AuthConfig{nil, {}} {
		auth := NewAuthenticator(cfg)
		assert.False(t, auth.Configured())
		assert.Equal(t, AuthValid, auth.Validate(""))
		assert.Equal(t, AuthValid, auth.Validate("Basic anything"))
	}
}
