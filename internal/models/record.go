package models

import "time"

// DataRecord is one external record in its storage shape: the raw payload
// plus the routing columns the reconciler keys on. The core never
// inspects Payload contents beyond the external id.
type DataRecord struct {
	ExternalID   string                 `json:"external_id"`
	ConnectionID int64                  `json:"nango_connection_id"`
	Model        string                 `json:"model"`
	SyncID       string                 `json:"sync_id"`
	SyncJobID    int64                  `json:"sync_job_id"`
	BatchID      string                 `json:"batch_id"`
	Payload      map[string]interface{} `json:"json"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// UpsertSummary reports which external ids a reconciliation batch added
// and which it updated.
type UpsertSummary struct {
	AddedKeys   []string `json:"added_keys"`
	UpdatedKeys []string `json:"updated_keys"`
}
