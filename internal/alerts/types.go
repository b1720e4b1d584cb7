package alerts

import (
	"fmt"
	"time"
)

// Severity represents alert severity level
type Severity string

const (
	// SeverityWarning is for warning alerts
	SeverityWarning Severity = "warning"
	// SeverityCritical is for critical alerts
	SeverityCritical Severity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	// AlertTypeRefreshFailure is raised when a token refresh fails
	AlertTypeRefreshFailure AlertType = "refresh_failure"
	// AlertTypeSyncStopped is raised when a sync run ends stopped
	AlertTypeSyncStopped AlertType = "sync_stopped"
)

// Alert represents an alert to be sent
type Alert struct {
	ID                string
	AccountID         int64
	Type              AlertType
	Severity          Severity
	ConnectionID      string
	ProviderConfigKey string
	SyncName          string
	Message           string
	Timestamp         time.Time
}

// AlertKey creates a unique key for deduplication. Repeated failures of
// the same kind for the same connection collapse into one notification
// per dedup window.
func (a *Alert) AlertKey() string {
	return fmt.Sprintf("%d:%s:%s:%s:%s", a.AccountID, a.Type, a.ConnectionID, a.ProviderConfigKey, a.SyncName)
}

// AlertRecord represents a sent alert record for deduplication
type AlertRecord struct {
	AlertKey string
	SentAt   time.Time
	Count    int
}
