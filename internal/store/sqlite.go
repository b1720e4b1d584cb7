package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/models"
)

// SQLiteStore persists connections, sync state and the activity log in a
// single SQLite database with WAL mode. It is thread-safe and supports
// concurrent access.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *logging.Logger
	cipher CredentialCipher
}

// NewSQLiteStore creates a new SQLite store with WAL mode enabled and the
// pass-through credential cipher.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithCipher(dbPath, NoopCipher())
}

// NewSQLiteStoreWithCipher creates a new SQLite store using the given
// credential cipher for the credentials column.
func NewSQLiteStoreWithCipher(dbPath string, cipher CredentialCipher) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.NewLogger(),
		cipher: cipher,
	}, nil
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS connections (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					connection_id TEXT NOT NULL,
					provider_config_key TEXT NOT NULL,
					account_id INTEGER NOT NULL,
					credentials BLOB NOT NULL,
					connection_config TEXT,
					metadata TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (connection_id, provider_config_key, account_id)
				);

				CREATE TABLE IF NOT EXISTS provider_configs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					unique_key TEXT NOT NULL,
					provider TEXT NOT NULL,
					oauth_client_id TEXT,
					oauth_client_secret TEXT,
					oauth_scopes TEXT,
					account_id INTEGER NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (unique_key, account_id)
				);

				CREATE INDEX IF NOT EXISTS idx_connections_account ON connections(account_id);
			`,
		},
		{
			version: 2,
			up: `
				CREATE TABLE IF NOT EXISTS sync_configs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					account_id INTEGER NOT NULL,
					provider_config_key TEXT NOT NULL,
					sync_name TEXT NOT NULL,
					models TEXT NOT NULL,
					runs TEXT,
					version TEXT,
					script_command TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (account_id, provider_config_key, sync_name)
				);

				CREATE TABLE IF NOT EXISTS sync_jobs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					sync_id TEXT NOT NULL,
					sync_name TEXT NOT NULL,
					type TEXT NOT NULL,
					status TEXT NOT NULL,
					nango_connection_id INTEGER NOT NULL,
					sync_config_id INTEGER,
					result TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (nango_connection_id) REFERENCES connections(id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_sync_jobs_connection ON sync_jobs(nango_connection_id, sync_name);
				CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status);
			`,
		},
		{
			version: 3,
			up: `
				CREATE TABLE IF NOT EXISTS activity_logs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					account_id INTEGER NOT NULL,
					action TEXT NOT NULL,
					connection_id TEXT,
					provider_config_key TEXT,
					provider TEXT,
					success INTEGER,
					timestamp INTEGER NOT NULL,
					start INTEGER NOT NULL,
					end INTEGER,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS activity_log_messages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					activity_log_id INTEGER NOT NULL,
					level TEXT NOT NULL,
					content TEXT NOT NULL,
					timestamp INTEGER NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (activity_log_id) REFERENCES activity_logs(id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_activity_logs_account ON activity_logs(account_id, timestamp);
				CREATE INDEX IF NOT EXISTS idx_activity_messages_log ON activity_log_messages(activity_log_id);
			`,
		},
		{
			version: 4,
			up: `
				CREATE TABLE IF NOT EXISTS data_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					external_id TEXT NOT NULL,
					nango_connection_id INTEGER NOT NULL,
					model TEXT NOT NULL,
					sync_id TEXT,
					sync_job_id INTEGER,
					batch_id TEXT,
					json TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (nango_connection_id, model, external_id),
					FOREIGN KEY (nango_connection_id) REFERENCES connections(id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_data_records_model ON data_records(nango_connection_id, model);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// Close gracefully shuts down the store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Connection operations

// UpsertConnection inserts or merges a connection keyed by the unique
// (connection_id, provider_config_key, account_id) tuple. On conflict the
// credentials, config and metadata are overwritten.
func (s *SQLiteStore) UpsertConnection(conn *models.Connection) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.encodeCredentials(conn.Credentials)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "encode credentials", Err: err}
	}
	cfg, _ := json.Marshal(conn.ConnectionConfig)
	meta, _ := json.Marshal(conn.Metadata)

	var id int64
	err = s.db.QueryRow(`
		INSERT INTO connections (connection_id, provider_config_key, account_id, credentials, connection_config, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(connection_id, provider_config_key, account_id) DO UPDATE SET
			credentials = excluded.credentials,
			connection_config = excluded.connection_config,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, conn.ConnectionID, conn.ProviderConfigKey, conn.AccountID, creds, string(cfg), string(meta)).Scan(&id)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "upsert connection", Err: err}
	}

	return id, nil
}

// GetConnection retrieves a connection by its identity tuple. Returns
// (nil, nil) when no row matches.
func (s *SQLiteStore) GetConnection(connectionID, providerConfigKey string, accountID int64) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		conn      models.Connection
		credsBlob []byte
		cfgRaw    sql.NullString
		metaRaw   sql.NullString
	)

	err := s.db.QueryRow(`
		SELECT id, connection_id, provider_config_key, account_id, credentials, connection_config, metadata, created_at, updated_at
		FROM connections
		WHERE connection_id = ? AND provider_config_key = ? AND account_id = ?
	`, connectionID, providerConfigKey, accountID).Scan(
		&conn.ID, &conn.ConnectionID, &conn.ProviderConfigKey, &conn.AccountID,
		&credsBlob, &cfgRaw, &metaRaw, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get connection", Err: err}
	}

	conn.Credentials, err = s.decodeCredentials(credsBlob)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "decode credentials", Err: err}
	}
	conn.ConnectionConfig = decodeStringMap(cfgRaw)
	conn.Metadata = decodeStringMap(metaRaw)

	return &conn, nil
}

// UpdateConnectionCredentials overwrites the credential column for an
// existing connection. No other column changes.
func (s *SQLiteStore) UpdateConnectionCredentials(conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.encodeCredentials(conn.Credentials)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "encode credentials", Err: err}
	}

	_, err = s.db.Exec(`
		UPDATE connections SET credentials = ?, updated_at = CURRENT_TIMESTAMP
		WHERE connection_id = ? AND provider_config_key = ? AND account_id = ?
	`, creds, conn.ConnectionID, conn.ProviderConfigKey, conn.AccountID)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "update connection credentials", Err: err}
	}
	return nil
}

// DeleteConnection removes a connection, returning the number of rows
// deleted.
func (s *SQLiteStore) DeleteConnection(connectionID, providerConfigKey string, accountID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM connections
		WHERE connection_id = ? AND provider_config_key = ? AND account_id = ?
	`, connectionID, providerConfigKey, accountID)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "delete connection", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListConnections returns connection identities for an account, optionally
// filtered by connection id.
func (s *SQLiteStore) ListConnections(accountID int64, connectionID string) ([]models.ConnectionRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, connection_id, provider_config_key, account_id
		FROM connections WHERE account_id = ?
	`
	args := []interface{}{accountID}
	if connectionID != "" {
		query += " AND connection_id = ?"
		args = append(args, connectionID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list connections", Err: err}
	}
	defer rows.Close()

	var refs []models.ConnectionRef
	for rows.Next() {
		var ref models.ConnectionRef
		if err := rows.Scan(&ref.ID, &ref.ConnectionID, &ref.ProviderConfigKey, &ref.AccountID); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan connection", Err: err}
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *SQLiteStore) encodeCredentials(creds models.Credentials) ([]byte, error) {
	raw, err := models.EncodeCredentials(creds)
	if err != nil {
		return nil, err
	}
	return s.cipher.Encrypt(raw)
}

func (s *SQLiteStore) decodeCredentials(blob []byte) (models.Credentials, error) {
	raw, err := s.cipher.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	return models.DecodeCredentials(raw)
}

func decodeStringMap(raw sql.NullString) map[string]string {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

// Provider config operations

// SaveProviderConfig inserts or updates a provider config keyed by
// (unique_key, account_id).
func (s *SQLiteStore) SaveProviderConfig(cfg *models.ProviderConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO provider_configs (unique_key, provider, oauth_client_id, oauth_client_secret, oauth_scopes, account_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(unique_key, account_id) DO UPDATE SET
			provider = excluded.provider,
			oauth_client_id = excluded.oauth_client_id,
			oauth_client_secret = excluded.oauth_client_secret,
			oauth_scopes = excluded.oauth_scopes,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, cfg.UniqueKey, cfg.Provider, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthScopes, cfg.AccountID).Scan(&id)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "save provider config", Err: err}
	}
	return id, nil
}

// GetProviderConfig retrieves a provider config by key. Returns (nil, nil)
// when no row matches.
func (s *SQLiteStore) GetProviderConfig(uniqueKey string, accountID int64) (*models.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cfg models.ProviderConfig
	err := s.db.QueryRow(`
		SELECT id, unique_key, provider, oauth_client_id, oauth_client_secret, oauth_scopes, account_id, created_at, updated_at
		FROM provider_configs WHERE unique_key = ? AND account_id = ?
	`, uniqueKey, accountID).Scan(
		&cfg.ID, &cfg.UniqueKey, &cfg.Provider, &cfg.OAuthClientID, &cfg.OAuthClientSecret,
		&cfg.OAuthScopes, &cfg.AccountID, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get provider config", Err: err}
	}
	return &cfg, nil
}

// ListProviderConfigs returns all provider configs for an account.
func (s *SQLiteStore) ListProviderConfigs(accountID int64) ([]models.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, unique_key, provider, oauth_client_id, oauth_client_secret, oauth_scopes, account_id, created_at, updated_at
		FROM provider_configs WHERE account_id = ? ORDER BY unique_key
	`, accountID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list provider configs", Err: err}
	}
	defer rows.Close()

	var configs []models.ProviderConfig
	for rows.Next() {
		var cfg models.ProviderConfig
		if err := rows.Scan(
			&cfg.ID, &cfg.UniqueKey, &cfg.Provider, &cfg.OAuthClientID, &cfg.OAuthClientSecret,
			&cfg.OAuthScopes, &cfg.AccountID, &cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan provider config", Err: err}
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}
