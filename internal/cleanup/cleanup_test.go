package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/store"
)

func seedLog(t *testing.T, s *store.MemoryStore, ts int64) int64 {
	t.Helper()
	id, err := s.CreateActivityLog(&models.ActivityLog{
		AccountID: 1,
		Action:    models.LogActionToken,
		Timestamp: ts,
	})
	require.NoError(t, err)
	return id
}

func TestRunCleanup(t *testing.T) {
	t.Run("removes logs past retention and keeps recent ones", func(t *testing.T) {
		s := store.NewMemoryStore()
		now := time.Now()
		oldID := seedLog(t, s, now.AddDate(0, 0, -45).UnixMilli())
		recentID := seedLog(t, s, now.UnixMilli())

		m := NewManager(Config{Enabled: true, RetentionDays: 30}, s)
		deleted, err := m.RunCleanup(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		logs, err := s.ListActivityLogs(1, 10, 0)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, recentID, logs[0].ID)
		assert.NotEqual(t, oldID, logs[0].ID)
	})

	t.Run("updates stats across runs", func(t *testing.T) {
		s := store.NewMemoryStore()
		seedLog(t, s, time.Now().AddDate(0, 0, -45).UnixMilli())

		m := NewManager(Config{Enabled: true, RetentionDays: 30}, s)

		_, err := m.RunCleanup(context.Background())
		require.NoError(t, err)
		_, err = m.RunCleanup(context.Background())
		require.NoError(t, err)

		stats := m.GetStats()
		assert.Equal(t, 2, stats.TotalRuns)
		assert.Equal(t, int64(1), stats.TotalDeletedCount)
		assert.Equal(t, int64(0), stats.LastDeletedCount)
		assert.False(t, stats.LastRunAt.IsZero())
	})
}

func TestManagerLifecycle(t *testing.T) {
	t.Run("disabled manager does not start", func(t *testing.T) {
		m := NewManager(Config{Enabled: false}, store.NewMemoryStore())
		require.NoError(t, m.Start(context.Background()))
		assert.False(t, m.IsRunning())
	})

	t.Run("start and stop", func(t *testing.T) {
		m := NewManager(Config{Enabled: true, Interval: time.Hour}, store.NewMemoryStore())
		require.NoError(t, m.Start(context.Background()))
		assert.True(t, m.IsRunning())

		require.Error(t, m.Start(context.Background()))

		m.Stop()
		assert.False(t, m.IsRunning())
		// Stop on a stopped manager is a no-op.
		m.Stop()
	})
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(Config{Enabled: true}, store.NewMemoryStore())
	assert.Equal(t, defaultInterval, m.config.Interval)
	assert.Equal(t, defaultRetentionDays, m.config.RetentionDays)
}
