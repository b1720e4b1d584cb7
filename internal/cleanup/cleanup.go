// Package cleanup prunes aged activity logs on a schedule so the
// store does not grow without bound.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/store"
)

const (
	defaultInterval      = time.Hour
	defaultRetentionDays = 30
)

// Config contains the cleanup manager configuration.
type Config struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	RetentionDays int           `json:"retention_days" yaml:"retention_days"`
}

// Stats contains cleanup statistics.
type Stats struct {
	TotalRuns         int           `json:"total_runs"`
	TotalDeletedCount int64         `json:"total_deleted_count"`
	LastRunAt         time.Time     `json:"last_run_at"`
	LastRunDuration   time.Duration `json:"last_run_duration"`
	LastDeletedCount  int64         `json:"last_deleted_count"`
}

// Manager deletes activity logs older than the retention window.
type Manager struct {
	store  store.Store
	config Config
	logger *logging.Logger

	ticker  *time.Ticker
	done    chan struct{}
	running bool
	mu      sync.Mutex

	statsMu sync.RWMutex
	stats   Stats
}

// NewManager creates a cleanup manager over the given store.
func NewManager(config Config, s store.Store) *Manager {
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaultRetentionDays
	}
	return &Manager{
		store:  s,
		config: config,
		logger: logging.NewLogger(),
		done:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cleanup manager is already running")
	}
	if !m.config.Enabled {
		return nil
	}

	m.running = true
	m.ticker = time.NewTicker(m.config.Interval)
	go m.run(ctx)
	return nil
}

// Stop stops the cleanup loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	m.ticker.Stop()
	close(m.done)
}

// IsRunning reports whether the cleanup loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) run(ctx context.Context) {
	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-m.ticker.C:
			if _, err := m.RunCleanup(ctx); err != nil {
				m.logger.Error("activity log cleanup failed", "error", err.Error())
			}
		}
	}
}

// RunCleanup deletes logs older than the retention window and returns
// the number removed.
func (m *Manager) RunCleanup(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := start.AddDate(0, 0, -m.config.RetentionDays).UnixMilli()

	deleted, err := m.store.CleanupActivityLogs(cutoff)
	duration := time.Since(start)
	if err != nil {
		return 0, err
	}

	m.statsMu.Lock()
	m.stats.TotalRuns++
	m.stats.TotalDeletedCount += deleted
	m.stats.LastRunAt = start
	m.stats.LastRunDuration = duration
	m.stats.LastDeletedCount = deleted
	m.statsMu.Unlock()

	if deleted > 0 {
		m.logger.Info("pruned activity logs",
			"deleted", deleted,
			"retention_days", m.config.RetentionDays)
	}
	return deleted, nil
}

// GetStats returns a snapshot of cleanup statistics.
func (m *Manager) GetStats() Stats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.stats
}
