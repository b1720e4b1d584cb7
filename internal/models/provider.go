package models

import (
	"fmt"
	"time"
)

// ProviderConfig is a tenant-created integration configuration: the OAuth
// app credentials registered for one provider under a tenant-chosen key.
type ProviderConfig struct {
	ID                int64     `json:"id"`
	UniqueKey         string    `json:"unique_key"`
	Provider          string    `json:"provider"`
	OAuthClientID     string    `json:"oauth_client_id"`
	OAuthClientSecret string    `json:"oauth_client_secret"`
	OAuthScopes       string    `json:"oauth_scopes"`
	AccountID         int64     `json:"account_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate checks required fields for an OAuth provider config.
func (p *ProviderConfig) Validate() error {
	if p.UniqueKey == "" {
		return fmt.Errorf("unique key is required")
	}
	if p.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	return nil
}

// ProviderTemplate describes how a provider's OAuth endpoints behave. The
// template registry ships with the server and is keyed by provider name.
type ProviderTemplate struct {
	Provider         string   `yaml:"provider" json:"provider"`
	AuthMode         AuthMode `yaml:"auth_mode" json:"auth_mode"`
	AuthorizationURL string   `yaml:"authorization_url" json:"authorization_url"`
	TokenURL         string   `yaml:"token_url" json:"token_url"`
	BaseAPIURL       string   `yaml:"base_api_url,omitempty" json:"base_api_url,omitempty"`

	// TokenExpirationBuffer is the number of seconds before the recorded
	// expiry at which a token is considered stale. Zero means the 900s
	// default applies.
	TokenExpirationBuffer int64 `yaml:"token_expiration_buffer,omitempty" json:"token_expiration_buffer,omitempty"`
}

// DefaultTokenExpirationBuffer is applied when a template does not
// override the refresh window.
const DefaultTokenExpirationBuffer = 15 * time.Minute

// ExpirationBuffer returns the effective stale-token window.
func (t *ProviderTemplate) ExpirationBuffer() time.Duration {
	if t != nil && t.TokenExpirationBuffer > 0 {
		return time.Duration(t.TokenExpirationBuffer) * time.Second
	}
	return DefaultTokenExpirationBuffer
}
