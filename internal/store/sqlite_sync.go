package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

// Sync config operations

// SaveSyncConfig inserts or updates a sync config keyed by
// (account_id, provider_config_key, sync_name).
func (s *SQLiteStore) SaveSyncConfig(cfg *models.SyncConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	modelsCSV := strings.Join(cfg.Models, ",")

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO sync_configs (account_id, provider_config_key, sync_name, models, runs, version, script_command)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, provider_config_key, sync_name) DO UPDATE SET
			models = excluded.models,
			runs = excluded.runs,
			version = excluded.version,
			script_command = excluded.script_command
		RETURNING id
	`, cfg.AccountID, cfg.ProviderConfigKey, cfg.SyncName, modelsCSV, cfg.Runs, cfg.Version, cfg.ScriptCommand).Scan(&id)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "save sync config", Err: err}
	}
	return id, nil
}

// GetSyncConfig retrieves a sync config by name. Returns (nil, nil) when no
// row matches.
func (s *SQLiteStore) GetSyncConfig(accountID int64, providerConfigKey, syncName string) (*models.SyncConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		cfg       models.SyncConfig
		modelsCSV string
	)
	err := s.db.QueryRow(`
		SELECT id, account_id, provider_config_key, sync_name, models, runs, version, script_command, created_at
		FROM sync_configs WHERE account_id = ? AND provider_config_key = ? AND sync_name = ?
	`, accountID, providerConfigKey, syncName).Scan(
		&cfg.ID, &cfg.AccountID, &cfg.ProviderConfigKey, &cfg.SyncName,
		&modelsCSV, &cfg.Runs, &cfg.Version, &cfg.ScriptCommand, &cfg.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get sync config", Err: err}
	}
	cfg.Models = splitModels(modelsCSV)
	return &cfg, nil
}

// ListSyncConfigs returns all sync configs for an account.
func (s *SQLiteStore) ListSyncConfigs(accountID int64) ([]models.SyncConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, account_id, provider_config_key, sync_name, models, runs, version, script_command, created_at
		FROM sync_configs WHERE account_id = ? ORDER BY provider_config_key, sync_name
	`, accountID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list sync configs", Err: err}
	}
	defer rows.Close()

	var configs []models.SyncConfig
	for rows.Next() {
		var (
			cfg       models.SyncConfig
			modelsCSV string
		)
		if err := rows.Scan(
			&cfg.ID, &cfg.AccountID, &cfg.ProviderConfigKey, &cfg.SyncName,
			&modelsCSV, &cfg.Runs, &cfg.Version, &cfg.ScriptCommand, &cfg.CreatedAt,
		); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan sync config", Err: err}
		}
		cfg.Models = splitModels(modelsCSV)
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// ListAllSyncConfigs returns every deployed sync config across accounts.
// Used by the interval scheduler to find due syncs.
func (s *SQLiteStore) ListAllSyncConfigs() ([]models.SyncConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, account_id, provider_config_key, sync_name, models, runs, version, script_command, created_at
		FROM sync_configs ORDER BY account_id, provider_config_key, sync_name
	`)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list all sync configs", Err: err}
	}
	defer rows.Close()

	var configs []models.SyncConfig
	for rows.Next() {
		var (
			cfg       models.SyncConfig
			modelsCSV string
		)
		if err := rows.Scan(
			&cfg.ID, &cfg.AccountID, &cfg.ProviderConfigKey, &cfg.SyncName,
			&modelsCSV, &cfg.Runs, &cfg.Version, &cfg.ScriptCommand, &cfg.CreatedAt,
		); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan sync config", Err: err}
		}
		cfg.Models = splitModels(modelsCSV)
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func splitModels(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sync job operations

// CreateSyncJob inserts a new sync job row and returns its id.
func (s *SQLiteStore) CreateSyncJob(job *models.SyncJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results, err := encodeResults(job.Results)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "encode sync job result", Err: err}
	}

	var id int64
	err = s.db.QueryRow(`
		INSERT INTO sync_jobs (sync_id, sync_name, type, status, nango_connection_id, sync_config_id, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, job.SyncID, job.SyncName, string(job.Type), string(job.Status), job.ConnectionID, job.SyncConfigID, results).Scan(&id)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "create sync job", Err: err}
	}
	job.ID = id
	return id, nil
}

// GetSyncJob retrieves a sync job by id. Returns (nil, nil) when no row
// matches.
func (s *SQLiteStore) GetSyncJob(id int64) (*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSyncJobLocked(id)
}

func (s *SQLiteStore) getSyncJobLocked(id int64) (*models.SyncJob, error) {
	var (
		job     models.SyncJob
		typ     string
		status  string
		results sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, sync_id, sync_name, type, status, nango_connection_id, sync_config_id, result, created_at, updated_at
		FROM sync_jobs WHERE id = ?
	`, id).Scan(
		&job.ID, &job.SyncID, &job.SyncName, &typ, &status,
		&job.ConnectionID, &job.SyncConfigID, &results, &job.CreatedAt, &job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get sync job", Err: err}
	}
	job.Type = models.SyncType(typ)
	job.Status = models.SyncStatus(status)
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &job.Results); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "decode sync job result", Err: err}
		}
	}
	return &job, nil
}

// UpdateSyncJobStatus transitions a sync job to the given status.
func (s *SQLiteStore) UpdateSyncJobStatus(id int64, status models.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE sync_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(status), id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "update sync job status", Err: err}
	}
	return nil
}

// SetSyncJobConfigID attaches the resolved sync config to a running job.
func (s *SQLiteStore) SetSyncJobConfigID(id int64, syncConfigID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE sync_jobs SET sync_config_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, syncConfigID, id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set sync job config", Err: err}
	}
	return nil
}

// UpdateSyncJobResult merges the per-model result into the job's result
// column and returns the updated row. The read-modify-write runs under the
// store lock so concurrent model reports cannot clobber each other.
func (s *SQLiteStore) UpdateSyncJobResult(id int64, model string, result models.SyncResult) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getSyncJobLocked(id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	if job.Results == nil {
		job.Results = models.JobResults{}
	}
	job.Results.SetModelResult(model, result)

	results, err := encodeResults(job.Results)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "encode sync job result", Err: err}
	}
	_, err = s.db.Exec(`
		UPDATE sync_jobs SET result = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, results, id)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "update sync job result", Err: err}
	}
	return job, nil
}

// GetLastSyncDate returns the update time of the most recent successful job
// for a sync, or (nil, nil) when the sync has never succeeded.
func (s *SQLiteStore) GetLastSyncDate(connectionRowID int64, syncName string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ts time.Time
	err := s.db.QueryRow(`
		SELECT updated_at FROM sync_jobs
		WHERE nango_connection_id = ? AND sync_name = ? AND status = ?
		ORDER BY updated_at DESC LIMIT 1
	`, connectionRowID, syncName, string(models.SyncStatusSuccess)).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get last sync date", Err: err}
	}
	return &ts, nil
}

func encodeResults(results models.JobResults) (sql.NullString, error) {
	if results == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
