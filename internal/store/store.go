package store

import (
	"time"

	"github.com/jakemccloskey/nango/internal/models"
)

// Store is the persistence contract shared by the SQLite and in-memory
// implementations. Lookups return (nil, nil) when no row matches; callers
// decide which classified error that becomes.
type Store interface {
	// Connections
	UpsertConnection(conn *models.Connection) (int64, error)
	GetConnection(connectionID, providerConfigKey string, accountID int64) (*models.Connection, error)
	UpdateConnectionCredentials(conn *models.Connection) error
	DeleteConnection(connectionID, providerConfigKey string, accountID int64) (int64, error)
	ListConnections(accountID int64, connectionID string) ([]models.ConnectionRef, error)

	// Provider configs
	SaveProviderConfig(cfg *models.ProviderConfig) (int64, error)
	GetProviderConfig(uniqueKey string, accountID int64) (*models.ProviderConfig, error)
	ListProviderConfigs(accountID int64) ([]models.ProviderConfig, error)

	// Sync configs
	SaveSyncConfig(cfg *models.SyncConfig) (int64, error)
	GetSyncConfig(accountID int64, providerConfigKey, syncName string) (*models.SyncConfig, error)
	ListSyncConfigs(accountID int64) ([]models.SyncConfig, error)
	ListAllSyncConfigs() ([]models.SyncConfig, error)

	// Sync jobs
	CreateSyncJob(job *models.SyncJob) (int64, error)
	GetSyncJob(id int64) (*models.SyncJob, error)
	UpdateSyncJobStatus(id int64, status models.SyncStatus) error
	SetSyncJobConfigID(id int64, syncConfigID int64) error
	UpdateSyncJobResult(id int64, model string, result models.SyncResult) (*models.SyncJob, error)
	GetLastSyncDate(connectionRowID int64, syncName string) (*time.Time, error)

	// Activity log
	CreateActivityLog(log *models.ActivityLog) (int64, error)
	CreateActivityLogMessage(msg *models.ActivityLogMessage) (int64, error)
	SetActivityLogSuccess(id int64, success bool) error
	EndActivityLog(id int64, end int64) error
	ListActivityLogs(accountID int64, limit, offset int) ([]models.ActivityLog, error)
	ListActivityLogMessages(activityLogID int64) ([]models.ActivityLogMessage, error)
	CleanupActivityLogs(before int64) (int64, error)

	// Data records
	UpsertRecords(records []models.DataRecord, model string, connectionRowID int64) (*models.UpsertSummary, error)
	CountRecords(connectionRowID int64, model string) (int64, error)

	Close() error
}

// CredentialCipher protects credentials at rest. The storage layer passes
// the serialized credential blob through it on every write and read; the
// default implementation is a pass-through so encryption stays pluggable.
type CredentialCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

type plaintextCipher struct{}

func (plaintextCipher) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (plaintextCipher) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// NoopCipher returns the pass-through credential cipher.
func NoopCipher() CredentialCipher {
	return plaintextCipher{}
}
