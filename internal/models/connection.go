package models

import (
	"fmt"
	"time"
)

// Connection is a tenant's stored credential set and configuration for one
// external provider account. The (ConnectionID, ProviderConfigKey,
// AccountID) tuple is unique per tenant.
type Connection struct {
	ID                int64             `json:"id"`
	ConnectionID      string            `json:"connection_id"`
	ProviderConfigKey string            `json:"provider_config_key"`
	AccountID         int64             `json:"account_id"`
	Credentials       Credentials       `json:"credentials"`
	ConnectionConfig  map[string]string `json:"connection_config"`
	Metadata          map[string]string `json:"metadata"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Validate checks required identity fields.
func (c *Connection) Validate() error {
	if c.ConnectionID == "" {
		return fmt.Errorf("connection ID is required")
	}
	if c.ProviderConfigKey == "" {
		return fmt.Errorf("provider config key is required")
	}
	if c.Credentials == nil {
		return fmt.Errorf("credentials are required")
	}
	return nil
}

// ConnectionRef is the minimal connection identity passed through the sync
// engine. It avoids dragging decrypted credentials into code paths that
// only need to address the connection.
type ConnectionRef struct {
	ID                int64  `json:"id"`
	ConnectionID      string `json:"connection_id"`
	ProviderConfigKey string `json:"provider_config_key"`
	AccountID         int64  `json:"account_id"`
}

// Ref returns the connection's identity tuple.
func (c *Connection) Ref() ConnectionRef {
	return ConnectionRef{
		ID:                c.ID,
		ConnectionID:      c.ConnectionID,
		ProviderConfigKey: c.ProviderConfigKey,
		AccountID:         c.AccountID,
	}
}
