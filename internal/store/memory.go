package store

import (
	"sort"
	"sync"
	"time"

	"github.com/jakemccloskey/nango/internal/models"
)

// MemoryStore is an in-memory Store used in tests and dry runs. It mirrors
// the SQLite semantics including (nil, nil) lookups.
type MemoryStore struct {
	mu sync.RWMutex

	nextID      int64
	connections map[connKey]*models.Connection
	providers   map[provKey]*models.ProviderConfig
	syncConfigs map[syncCfgKey]*models.SyncConfig
	syncJobs    map[int64]*models.SyncJob
	logs        map[int64]*models.ActivityLog
	messages    map[int64][]models.ActivityLogMessage
	records     map[recordKey]models.DataRecord
}

type connKey struct {
	connectionID      string
	providerConfigKey string
	accountID         int64
}

type provKey struct {
	uniqueKey string
	accountID int64
}

type syncCfgKey struct {
	accountID         int64
	providerConfigKey string
	syncName          string
}

type recordKey struct {
	connectionRowID int64
	model           string
	externalID      string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connections: make(map[connKey]*models.Connection),
		providers:   make(map[provKey]*models.ProviderConfig),
		syncConfigs: make(map[syncCfgKey]*models.SyncConfig),
		syncJobs:    make(map[int64]*models.SyncJob),
		logs:        make(map[int64]*models.ActivityLog),
		messages:    make(map[int64][]models.ActivityLogMessage),
		records:     make(map[recordKey]models.DataRecord),
	}
}

func (s *MemoryStore) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Connection operations

func (s *MemoryStore) UpsertConnection(conn *models.Connection) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := connKey{conn.ConnectionID, conn.ProviderConfigKey, conn.AccountID}
	now := time.Now()
	if existing, ok := s.connections[key]; ok {
		existing.Credentials = conn.Credentials
		existing.ConnectionConfig = conn.ConnectionConfig
		existing.Metadata = conn.Metadata
		existing.UpdatedAt = now
		return existing.ID, nil
	}

	cp := *conn
	cp.ID = s.nextIDLocked()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.connections[key] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) GetConnection(connectionID, providerConfigKey string, accountID int64) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[connKey{connectionID, providerConfigKey, accountID}]
	if !ok {
		return nil, nil
	}
	cp := *conn
	return &cp, nil
}

func (s *MemoryStore) UpdateConnectionCredentials(conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := connKey{conn.ConnectionID, conn.ProviderConfigKey, conn.AccountID}
	if existing, ok := s.connections[key]; ok {
		existing.Credentials = conn.Credentials
		existing.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) DeleteConnection(connectionID, providerConfigKey string, accountID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := connKey{connectionID, providerConfigKey, accountID}
	if _, ok := s.connections[key]; !ok {
		return 0, nil
	}
	delete(s.connections, key)
	return 1, nil
}

func (s *MemoryStore) ListConnections(accountID int64, connectionID string) ([]models.ConnectionRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []models.ConnectionRef
	for _, conn := range s.connections {
		if conn.AccountID != accountID {
			continue
		}
		if connectionID != "" && conn.ConnectionID != connectionID {
			continue
		}
		refs = append(refs, conn.Ref())
	}
	return refs, nil
}

// Provider config operations

func (s *MemoryStore) SaveProviderConfig(cfg *models.ProviderConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := provKey{cfg.UniqueKey, cfg.AccountID}
	now := time.Now()
	if existing, ok := s.providers[key]; ok {
		id := existing.ID
		cp := *cfg
		cp.ID = id
		cp.CreatedAt = existing.CreatedAt
		cp.UpdatedAt = now
		s.providers[key] = &cp
		return id, nil
	}

	cp := *cfg
	cp.ID = s.nextIDLocked()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.providers[key] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) GetProviderConfig(uniqueKey string, accountID int64) (*models.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.providers[provKey{uniqueKey, accountID}]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) ListProviderConfigs(accountID int64) ([]models.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var configs []models.ProviderConfig
	for _, cfg := range s.providers {
		if cfg.AccountID == accountID {
			configs = append(configs, *cfg)
		}
	}
	return configs, nil
}

// Sync config operations

func (s *MemoryStore) SaveSyncConfig(cfg *models.SyncConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := syncCfgKey{cfg.AccountID, cfg.ProviderConfigKey, cfg.SyncName}
	if existing, ok := s.syncConfigs[key]; ok {
		id := existing.ID
		cp := *cfg
		cp.ID = id
		cp.CreatedAt = existing.CreatedAt
		s.syncConfigs[key] = &cp
		return id, nil
	}

	cp := *cfg
	cp.ID = s.nextIDLocked()
	cp.CreatedAt = time.Now()
	s.syncConfigs[key] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) GetSyncConfig(accountID int64, providerConfigKey, syncName string) (*models.SyncConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.syncConfigs[syncCfgKey{accountID, providerConfigKey, syncName}]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) ListSyncConfigs(accountID int64) ([]models.SyncConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var configs []models.SyncConfig
	for _, cfg := range s.syncConfigs {
		if cfg.AccountID == accountID {
			configs = append(configs, *cfg)
		}
	}
	return configs, nil
}

func (s *MemoryStore) ListAllSyncConfigs() ([]models.SyncConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]models.SyncConfig, 0, len(s.syncConfigs))
	for _, cfg := range s.syncConfigs {
		configs = append(configs, *cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs, nil
}

// Sync job operations

func (s *MemoryStore) CreateSyncJob(job *models.SyncJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	cp.ID = s.nextIDLocked()
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.syncJobs[cp.ID] = &cp
	job.ID = cp.ID
	return cp.ID, nil
}

func (s *MemoryStore) GetSyncJob(id int64) (*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.syncJobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) UpdateSyncJobStatus(id int64, status models.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.syncJobs[id]; ok {
		job.Status = status
		job.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) SetSyncJobConfigID(id int64, syncConfigID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.syncJobs[id]; ok {
		job.SyncConfigID = &syncConfigID
		job.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) UpdateSyncJobResult(id int64, model string, result models.SyncResult) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.syncJobs[id]
	if !ok {
		return nil, nil
	}
	if job.Results == nil {
		job.Results = models.JobResults{}
	}
	job.Results.SetModelResult(model, result)
	job.UpdatedAt = time.Now()
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) GetLastSyncDate(connectionRowID int64, syncName string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *time.Time
	for _, job := range s.syncJobs {
		if job.ConnectionID != connectionRowID || job.SyncName != syncName || job.Status != models.SyncStatusSuccess {
			continue
		}
		if last == nil || job.UpdatedAt.After(*last) {
			ts := job.UpdatedAt
			last = &ts
		}
	}
	return last, nil
}

// Activity log operations

func (s *MemoryStore) CreateActivityLog(log *models.ActivityLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *log
	cp.ID = s.nextIDLocked()
	cp.CreatedAt = time.Now()
	s.logs[cp.ID] = &cp
	log.ID = cp.ID
	return cp.ID, nil
}

func (s *MemoryStore) CreateActivityLogMessage(msg *models.ActivityLogMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *msg
	cp.ID = s.nextIDLocked()
	cp.CreatedAt = time.Now()
	s.messages[cp.ActivityLogID] = append(s.messages[cp.ActivityLogID], cp)
	msg.ID = cp.ID
	return cp.ID, nil
}

func (s *MemoryStore) SetActivityLogSuccess(id int64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok := s.logs[id]; ok {
		log.Success = &success
	}
	return nil
}

func (s *MemoryStore) EndActivityLog(id int64, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok := s.logs[id]; ok {
		log.End = &end
	}
	return nil
}

func (s *MemoryStore) ListActivityLogs(accountID int64, limit, offset int) ([]models.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []models.ActivityLog
	for _, log := range s.logs {
		if log.AccountID == accountID {
			logs = append(logs, *log)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].Timestamp > logs[j].Timestamp })
	if offset > len(logs) {
		return nil, nil
	}
	logs = logs[offset:]
	if limit > 0 && limit < len(logs) {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *MemoryStore) ListActivityLogMessages(activityLogID int64) ([]models.ActivityLogMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[activityLogID]
	out := make([]models.ActivityLogMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) CleanupActivityLogs(before int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, log := range s.logs {
		if log.Timestamp < before {
			delete(s.logs, id)
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

// Data record operations

func (s *MemoryStore) UpsertRecords(records []models.DataRecord, model string, connectionRowID int64) (*models.UpsertSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &models.UpsertSummary{}
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		key := recordKey{connectionRowID, model, rec.ExternalID}
		_, exists := s.records[key]
		cp := rec
		cp.ConnectionID = connectionRowID
		cp.Model = model
		cp.UpdatedAt = time.Now()
		s.records[key] = cp
		if seen[rec.ExternalID] {
			continue
		}
		seen[rec.ExternalID] = true
		if exists {
			summary.UpdatedKeys = append(summary.UpdatedKeys, rec.ExternalID)
		} else {
			summary.AddedKeys = append(summary.AddedKeys, rec.ExternalID)
		}
	}
	return summary, nil
}

func (s *MemoryStore) CountRecords(connectionRowID int64, model string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for key := range s.records {
		if key.connectionRowID == connectionRowID && key.model == model {
			n++
		}
	}
	return n, nil
}
