package models

import "time"

// LogAction classifies what operation an activity log covers.
type LogAction string

const (
	LogActionToken LogAction = "token"
	LogActionSync  LogAction = "sync"
	LogActionProxy LogAction = "proxy"
	LogActionAuth  LogAction = "auth"
)

// ActivityLog is one operation's durable diagnostic record. Messages hang
// off it in insertion order; Success stays nil until the operation
// reaches a verdict.
type ActivityLog struct {
	ID                int64     `json:"id"`
	AccountID         int64     `json:"account_id"`
	Action            LogAction `json:"action"`
	ConnectionID      string    `json:"connection_id,omitempty"`
	ProviderConfigKey string    `json:"provider_config_key,omitempty"`
	Provider          string    `json:"provider,omitempty"`
	Success           *bool     `json:"success,omitempty"`
	Timestamp         int64     `json:"timestamp"`
	Start             int64     `json:"start"`
	End               *int64    `json:"end,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ActivityLogMessage is one line of an activity log.
type ActivityLogMessage struct {
	ID            int64     `json:"id"`
	ActivityLogID int64     `json:"activity_log_id"`
	Level         string    `json:"level"`
	Content       string    `json:"content"`
	Timestamp     int64     `json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}
