package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuthMode identifies how a provider authenticates connections.
type AuthMode string

const (
	AuthModeOAuth2 AuthMode = "OAUTH2"
	AuthModeOAuth1 AuthMode = "OAUTH1"
)

// Credentials is the tagged union over the credential shapes a connection
// can hold. The concrete type is one of OAuth2Credentials,
// OAuth1Credentials or ImportedCredentials.
type Credentials interface {
	Mode() AuthMode
}

// OAuth2Credentials holds an OAuth2 access token and its refresh material.
// A nil ExpiresAt means the token is treated as non-expiring unless the
// provider requires introspection.
type OAuth2Credentials struct {
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}

// Mode returns the auth mode tag.
func (c *OAuth2Credentials) Mode() AuthMode {
	return AuthModeOAuth2
}

// Expired reports whether the token expires within the given buffer.
// Credentials without an expiry never expire here.
func (c *OAuth2Credentials) Expired(buffer time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(c.ExpiresAt.Add(-buffer))
}

// OAuth1Credentials holds an OAuth 1.0a token pair.
type OAuth1Credentials struct {
	Token       string                 `json:"oauth_token"`
	TokenSecret string                 `json:"oauth_token_secret"`
	Raw         map[string]interface{} `json:"raw,omitempty"`
}

// Mode returns the auth mode tag.
func (c *OAuth1Credentials) Mode() AuthMode {
	return AuthModeOAuth1
}

// ImportedCredentials is a user-supplied OAuth2 credential set brought in
// through the import endpoint rather than an OAuth flow. It may carry
// connection config and metadata alongside the token material.
type ImportedCredentials struct {
	OAuth2Credentials
	ConnectionConfig map[string]string `json:"connection_config,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// credentialEnvelope is the persisted JSON form. The type tag selects the
// variant on decode.
type credentialEnvelope struct {
	Type AuthMode        `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeCredentials serializes credentials with their type tag for storage.
func EncodeCredentials(c Credentials) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil credentials")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	return json.Marshal(credentialEnvelope{Type: c.Mode(), Data: data})
}

// DecodeCredentials restores credentials from their stored form.
func DecodeCredentials(raw []byte) (Credentials, error) {
	var env credentialEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal credential envelope: %w", err)
	}

	switch env.Type {
	case AuthModeOAuth2:
		var creds OAuth2Credentials
		if err := json.Unmarshal(env.Data, &creds); err != nil {
			return nil, fmt.Errorf("unmarshal oauth2 credentials: %w", err)
		}
		return &creds, nil
	case AuthModeOAuth1:
		var creds OAuth1Credentials
		if err := json.Unmarshal(env.Data, &creds); err != nil {
			return nil, fmt.Errorf("unmarshal oauth1 credentials: %w", err)
		}
		return &creds, nil
	default:
		return nil, fmt.Errorf("unknown credential type: %q", env.Type)
	}
}
