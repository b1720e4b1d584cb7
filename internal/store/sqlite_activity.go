package store

import (
	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

// Activity log operations

// CreateActivityLog inserts a new activity log and returns its id.
func (s *SQLiteStore) CreateActivityLog(log *models.ActivityLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO activity_logs (account_id, action, connection_id, provider_config_key, provider, success, timestamp, start, end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, log.AccountID, string(log.Action), log.ConnectionID, log.ProviderConfigKey, log.Provider,
		log.Success, log.Timestamp, log.Start, log.End).Scan(&id)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "create activity log", Err: err}
	}
	log.ID = id
	return id, nil
}

// CreateActivityLogMessage appends one message line to an activity log.
func (s *SQLiteStore) CreateActivityLogMessage(msg *models.ActivityLogMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO activity_log_messages (activity_log_id, level, content, timestamp)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, msg.ActivityLogID, msg.Level, msg.Content, msg.Timestamp).Scan(&id)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "create activity log message", Err: err}
	}
	msg.ID = id
	return id, nil
}

// SetActivityLogSuccess records the verdict of the logged operation.
func (s *SQLiteStore) SetActivityLogSuccess(id int64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE activity_logs SET success = ? WHERE id = ?`, success, id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set activity log success", Err: err}
	}
	return nil
}

// EndActivityLog stamps the end time of the logged operation.
func (s *SQLiteStore) EndActivityLog(id int64, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE activity_logs SET end = ? WHERE id = ?`, end, id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "end activity log", Err: err}
	}
	return nil
}

// ListActivityLogs returns the newest activity logs for an account.
func (s *SQLiteStore) ListActivityLogs(accountID int64, limit, offset int) ([]models.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, account_id, action, connection_id, provider_config_key, provider, success, timestamp, start, end, created_at
		FROM activity_logs WHERE account_id = ?
		ORDER BY timestamp DESC LIMIT ? OFFSET ?
	`, accountID, limit, offset)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list activity logs", Err: err}
	}
	defer rows.Close()

	var logs []models.ActivityLog
	for rows.Next() {
		var (
			log    models.ActivityLog
			action string
		)
		if err := rows.Scan(
			&log.ID, &log.AccountID, &action, &log.ConnectionID, &log.ProviderConfigKey,
			&log.Provider, &log.Success, &log.Timestamp, &log.Start, &log.End, &log.CreatedAt,
		); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan activity log", Err: err}
		}
		log.Action = models.LogAction(action)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ListActivityLogMessages returns an activity log's messages in insertion
// order.
func (s *SQLiteStore) ListActivityLogMessages(activityLogID int64) ([]models.ActivityLogMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, activity_log_id, level, content, timestamp, created_at
		FROM activity_log_messages WHERE activity_log_id = ? ORDER BY id
	`, activityLogID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list activity log messages", Err: err}
	}
	defer rows.Close()

	var msgs []models.ActivityLogMessage
	for rows.Next() {
		var msg models.ActivityLogMessage
		if err := rows.Scan(&msg.ID, &msg.ActivityLogID, &msg.Level, &msg.Content, &msg.Timestamp, &msg.CreatedAt); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan activity log message", Err: err}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CleanupActivityLogs deletes activity logs older than the retention
// window. Messages cascade.
func (s *SQLiteStore) CleanupActivityLogs(before int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM activity_logs WHERE timestamp < ?`, before)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "cleanup activity logs", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}
