package models

import (
	"encoding/json"
	"time"
)

// SyncType distinguishes a first full pull from a follow-up pull.
type SyncType string

const (
	SyncTypeInitial     SyncType = "INITIAL"
	SyncTypeIncremental SyncType = "INCREMENTAL"
)

// SyncStatus is the job state. Terminal jobs are append-only.
type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "RUNNING"
	SyncStatusSuccess SyncStatus = "SUCCESS"
	SyncStatusStopped SyncStatus = "STOPPED"
)

// SyncResult is the per-model reconciliation outcome stored on a job.
type SyncResult struct {
	Added   int64 `json:"added"`
	Updated int64 `json:"updated"`
}

// JobResults is the per-model result column of a sync job. Rows written by
// older releases stored a single flat {"added": n, "updated": n} object
// instead of a model-keyed map, so reads go through ModelResult which
// understands both layouts.
type JobResults map[string]json.RawMessage

// ModelResult reads the result for one model, falling back to the legacy
// flat layout when the model key holds no structured entry.
func (r JobResults) ModelResult(model string) SyncResult {
	if raw, ok := r[model]; ok {
		var res SyncResult
		if err := json.Unmarshal(raw, &res); err == nil {
			return res
		}
	}

	// Legacy layout: top-level added/updated numbers.
	var legacy SyncResult
	if raw, ok := r["added"]; ok {
		_ = json.Unmarshal(raw, &legacy.Added)
	}
	if raw, ok := r["updated"]; ok {
		_ = json.Unmarshal(raw, &legacy.Updated)
	}
	return legacy
}

// SetModelResult writes a structured entry for one model.
func (r JobResults) SetModelResult(model string, res SyncResult) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	r[model] = raw
}

// SyncJob is one execution attempt of a named sync for one connection.
type SyncJob struct {
	ID           int64      `json:"id"`
	SyncID       string     `json:"sync_id"`
	SyncName     string     `json:"sync_name"`
	Type         SyncType   `json:"type"`
	Status       SyncStatus `json:"status"`
	ConnectionID int64      `json:"nango_connection_id"`
	SyncConfigID *int64     `json:"sync_config_id,omitempty"`
	Results      JobResults `json:"result,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Terminal reports whether the job reached a final state.
func (j *SyncJob) Terminal() bool {
	return j.Status == SyncStatusSuccess || j.Status == SyncStatusStopped
}

// SyncConfig is a deployed per-tenant sync definition resolved by
// (provider config key, sync name).
type SyncConfig struct {
	ID                int64     `json:"id"`
	AccountID         int64     `json:"account_id"`
	ProviderConfigKey string    `json:"provider_config_key"`
	SyncName          string    `json:"sync_name"`
	Models            []string  `json:"models"`
	Runs              string    `json:"runs"`
	Version           string    `json:"version,omitempty"`
	ScriptCommand     string    `json:"script_command,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
