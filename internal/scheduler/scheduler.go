// Package scheduler launches due sync runs on an interval. It walks the
// deployed sync configs, finds the connections each one applies to, and
// triggers a run when the sync's frequency has elapsed since its last
// successful job. The run engine itself stays scheduler-agnostic.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/store"
	syncs "github.com/jakemccloskey/nango/internal/sync"
)

// defaultFrequency applies when a sync config has no runs expression.
const defaultFrequency = 24 * time.Hour

// Scheduler periodically triggers due syncs.
type Scheduler struct {
	store    store.Store
	syncs    *syncs.Service
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler ticking at the given interval.
func New(s store.Store, service *syncs.Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    s,
		syncs:    service,
		interval: interval,
		logger:   logging.NewLogger(),
	}
}

// Start begins the ticker loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the ticker and waits for an in-progress pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDueSyncs(ctx)
		}
	}
}

// runDueSyncs makes one pass over all deployed syncs. Failures are
// logged per sync; one broken sync never blocks the rest of the pass.
func (s *Scheduler) runDueSyncs(ctx context.Context) {
	configs, err := s.store.ListAllSyncConfigs()
	if err != nil {
		s.logger.Error("scheduler failed to list sync configs", "error", err.Error())
		return
	}

	for _, cfg := range configs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frequency, err := ParseRuns(cfg.Runs)
		if err != nil {
			s.logger.Warn("skipping sync with invalid runs expression",
				"sync_name", cfg.SyncName, "runs", cfg.Runs)
			continue
		}

		refs, err := s.store.ListConnections(cfg.AccountID, "")
		if err != nil {
			s.logger.Error("scheduler failed to list connections",
				"account_id", cfg.AccountID, "error", err.Error())
			continue
		}

		for _, ref := range refs {
			if ref.ProviderConfigKey != cfg.ProviderConfigKey {
				continue
			}
			s.maybeTrigger(ctx, cfg, ref, frequency)
		}
	}
}

func (s *Scheduler) maybeTrigger(ctx context.Context, cfg models.SyncConfig, ref models.ConnectionRef, frequency time.Duration) {
	last, err := s.store.GetLastSyncDate(ref.ID, cfg.SyncName)
	if err != nil {
		s.logger.Error("scheduler failed to read last sync date",
			"sync_name", cfg.SyncName, "connection_id", ref.ConnectionID, "error", err.Error())
		return
	}

	syncType := models.SyncTypeIncremental
	if last == nil {
		syncType = models.SyncTypeInitial
	} else if time.Since(*last) < frequency {
		return
	}

	conn, err := s.store.GetConnection(ref.ConnectionID, ref.ProviderConfigKey, ref.AccountID)
	if err != nil || conn == nil {
		s.logger.Error("scheduler failed to load connection",
			"connection_id", ref.ConnectionID, "provider_config_key", ref.ProviderConfigKey)
		return
	}

	s.logger.Info("scheduler triggering sync",
		"sync_name", cfg.SyncName,
		"connection_id", ref.ConnectionID,
		"sync_type", string(syncType),
	)

	job, err := s.syncs.Trigger(ctx, conn, cfg.SyncName, syncType)
	if err != nil {
		s.logger.Error("scheduled sync failed to run",
			"sync_name", cfg.SyncName, "connection_id", ref.ConnectionID, "error", err.Error())
		return
	}
	if job != nil && job.Status == models.SyncStatusStopped {
		s.logger.Warn("scheduled sync stopped",
			"sync_name", cfg.SyncName, "connection_id", ref.ConnectionID, "job_id", job.ID)
	}
}

// ParseRuns parses a sync frequency expression of the form "every 30m",
// "every hour", "every half hour", "every day" or "every week". An empty
// expression means daily.
func ParseRuns(runs string) (time.Duration, error) {
	expr := strings.TrimSpace(strings.ToLower(runs))
	if expr == "" {
		return defaultFrequency, nil
	}

	expr = strings.TrimSpace(strings.TrimPrefix(expr, "every"))
	switch expr {
	case "half hour", "half-hour":
		return 30 * time.Minute, nil
	case "hour":
		return time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid runs expression %q", runs)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("runs frequency %q is below the 1m minimum", runs)
	}
	return d, nil
}
