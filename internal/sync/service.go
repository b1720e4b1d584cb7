package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jakemccloskey/nango/internal/activity"
	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/store"
)

// Service ties the engine to durable jobs: it creates the job row, opens
// the activity trail and hands both to the engine. It also seeds initial
// syncs for freshly imported connections.
type Service struct {
	store    store.Store
	engine   *Engine
	reporter *activity.Reporter
	logger   *logging.Logger
}

// NewService creates the sync service.
func NewService(s store.Store, engine *Engine, reporter *activity.Reporter) *Service {
	return &Service{
		store:    s,
		engine:   engine,
		reporter: reporter,
		logger:   logging.NewLogger(),
	}
}

// Trigger runs one durable sync for a connection and returns the finished
// job. The returned job's status is the coarse verdict; the activity log
// holds the detail.
func (s *Service) Trigger(ctx context.Context, conn *models.Connection, syncName string, syncType models.SyncType) (*models.SyncJob, error) {
	job := &models.SyncJob{
		SyncID:       uuid.New().String(),
		SyncName:     syncName,
		Type:         syncType,
		Status:       models.SyncStatusRunning,
		ConnectionID: conn.ID,
	}
	jobID, err := s.store.CreateSyncJob(job)
	if err != nil {
		return nil, err
	}

	trail := s.reporter.Start(&models.ActivityLog{
		AccountID:         conn.AccountID,
		Action:            models.LogActionSync,
		ConnectionID:      conn.ConnectionID,
		ProviderConfigKey: conn.ProviderConfigKey,
	})
	trail.Info("starting %s sync %s", syncType, syncName)

	if _, err := s.engine.Run(ctx, &Run{
		Connection: conn,
		SyncName:   syncName,
		SyncType:   syncType,
		SyncID:     job.SyncID,
		SyncJobID:  jobID,
		Trail:      trail,
	}); err != nil {
		return nil, err
	}

	return s.store.GetSyncJob(jobID)
}

// SyncTypeFor picks INITIAL for a sync that has never succeeded on this
// connection, INCREMENTAL otherwise.
func (s *Service) SyncTypeFor(conn *models.Connection, syncName string) (models.SyncType, error) {
	last, err := s.store.GetLastSyncDate(conn.ID, syncName)
	if err != nil {
		return "", err
	}
	if last == nil {
		return models.SyncTypeInitial, nil
	}
	return models.SyncTypeIncremental, nil
}

// ScheduleInitialSyncs kicks off an INITIAL run for every sync configured
// on the connection's provider config key. Runs happen in the background;
// the import that triggered them has already returned.
func (s *Service) ScheduleInitialSyncs(ctx context.Context, conn *models.Connection) error {
	configs, err := s.store.ListSyncConfigs(conn.AccountID)
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		if cfg.ProviderConfigKey != conn.ProviderConfigKey {
			continue
		}
		cfg := cfg
		go func() {
			if _, err := s.Trigger(context.Background(), conn, cfg.SyncName, models.SyncTypeInitial); err != nil {
				s.logger.Error("initial sync trigger failed",
					"sync_name", cfg.SyncName, "connection_id", conn.ConnectionID, "error", err.Error())
			}
		}()
	}
	return nil
}

// DryRun executes a sync against a local nango.yaml without touching the
// store, returning the raw script output.
func (s *Service) DryRun(ctx context.Context, conn *models.Connection, syncName, localDir string, lastSyncDate *time.Time) (RawResults, error) {
	result, err := s.engine.Run(ctx, &Run{
		Connection:   conn,
		SyncName:     syncName,
		SyncType:     models.SyncTypeInitial,
		DryRun:       true,
		LocalDir:     localDir,
		LastSyncDate: lastSyncDate,
	})
	if err != nil {
		return nil, err
	}
	return result.Raw, nil
}
