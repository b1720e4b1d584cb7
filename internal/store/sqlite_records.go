package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

// Data record operations

// UpsertRecords writes a batch of formatted records for one model inside a
// single transaction and reports which external ids were new and which
// were overwritten. An empty batch is a no-op with an empty summary.
func (s *SQLiteStore) UpsertRecords(records []models.DataRecord, model string, connectionRowID int64) (*models.UpsertSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &models.UpsertSummary{}
	if len(records) == 0 {
		return summary, nil
	}

	existing, err := s.existingExternalIDs(records, model, connectionRowID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "begin record upsert", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO data_records (external_id, nango_connection_id, model, sync_id, sync_job_id, batch_id, json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(nango_connection_id, model, external_id) DO UPDATE SET
			sync_id = excluded.sync_id,
			sync_job_id = excluded.sync_job_id,
			batch_id = excluded.batch_id,
			json = excluded.json,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "prepare record upsert", Err: err}
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "encode record payload", Err: err}
		}
		if _, err := stmt.Exec(rec.ExternalID, connectionRowID, model, rec.SyncID, rec.SyncJobID, rec.BatchID, string(payload)); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "upsert record", Err: err}
		}
		// A duplicate id inside one batch counts once.
		if seen[rec.ExternalID] {
			continue
		}
		seen[rec.ExternalID] = true
		if existing[rec.ExternalID] {
			summary.UpdatedKeys = append(summary.UpdatedKeys, rec.ExternalID)
		} else {
			summary.AddedKeys = append(summary.AddedKeys, rec.ExternalID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "commit record upsert", Err: err}
	}
	return summary, nil
}

func (s *SQLiteStore) existingExternalIDs(records []models.DataRecord, model string, connectionRowID int64) (map[string]bool, error) {
	placeholders := make([]string, 0, len(records))
	args := []interface{}{connectionRowID, model}
	for _, rec := range records {
		placeholders = append(placeholders, "?")
		args = append(args, rec.ExternalID)
	}

	query := fmt.Sprintf(`
		SELECT external_id FROM data_records
		WHERE nango_connection_id = ? AND model = ? AND external_id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "select existing records", Err: err}
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan existing record", Err: err}
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// CountRecords returns how many records a connection holds for a model.
func (s *SQLiteStore) CountRecords(connectionRowID int64, model string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM data_records WHERE nango_connection_id = ? AND model = ?
	`, connectionRowID, model).Scan(&n)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "count records", Err: err}
	}
	return n, nil
}
