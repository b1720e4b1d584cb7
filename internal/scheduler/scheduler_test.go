package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakemccloskey/nango/internal/activity"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/store"
	syncs "github.com/jakemccloskey/nango/internal/sync"
)

type countingRunner struct {
	calls   int
	results syncs.RawResults
}

func (r *countingRunner) Run(ctx context.Context, cfg *models.SyncConfig, input syncs.ScriptInput) (syncs.RawResults, error) {
	r.calls++
	return r.results, nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	store     *store.MemoryStore
	runner    *countingRunner
	conn      *models.Connection
}

func newFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	ms := store.NewMemoryStore()
	runner := &countingRunner{results: syncs.RawResults{"GithubIssue": {{"id": "1"}}}}
	engine := syncs.NewEngine(ms, runner, nil)
	service := syncs.NewService(ms, engine, activity.NewReporter(ms))

	conn := &models.Connection{
		ConnectionID:      "conn-1",
		ProviderConfigKey: "github-prod",
		AccountID:         1,
		Credentials:       &models.OAuth2Credentials{AccessToken: "tok"},
	}
	id, err := ms.UpsertConnection(conn)
	require.NoError(t, err)
	conn.ID = id

	_, err = ms.SaveSyncConfig(&models.SyncConfig{
		AccountID:         1,
		ProviderConfigKey: "github-prod",
		SyncName:          "issues",
		Models:            []string{"GithubIssue"},
		Runs:              "every 1h",
	})
	require.NoError(t, err)

	return &schedulerFixture{
		scheduler: New(ms, service, time.Minute),
		store:     ms,
		runner:    runner,
		conn:      conn,
	}
}

func TestRunDueSyncs(t *testing.T) {
	t.Run("never-run sync triggers an initial run", func(t *testing.T) {
		f := newFixture(t)

		f.scheduler.runDueSyncs(context.Background())
		assert.Equal(t, 1, f.runner.calls)

		last, err := f.store.GetLastSyncDate(f.conn.ID, "issues")
		require.NoError(t, err)
		require.NotNil(t, last)
	})

	t.Run("recently synced connection is skipped", func(t *testing.T) {
		f := newFixture(t)

		f.scheduler.runDueSyncs(context.Background())
		require.Equal(t, 1, f.runner.calls)

		// The successful job just finished, so the hourly frequency has
		// not elapsed.
		f.scheduler.runDueSyncs(context.Background())
		assert.Equal(t, 1, f.runner.calls)
	})

	t.Run("connections under other provider configs are ignored", func(t *testing.T) {
		f := newFixture(t)

		other := &models.Connection{
			ConnectionID:      "conn-2",
			ProviderConfigKey: "salesforce-prod",
			AccountID:         1,
			Credentials:       &models.OAuth2Credentials{AccessToken: "tok"},
		}
		_, err := f.store.UpsertConnection(other)
		require.NoError(t, err)

		f.scheduler.runDueSyncs(context.Background())
		assert.Equal(t, 1, f.runner.calls)
	})

	t.Run("invalid runs expression skips the sync", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store.SaveSyncConfig(&models.SyncConfig{
			AccountID:         1,
			ProviderConfigKey: "github-prod",
			SyncName:          "issues",
			Models:            []string{"GithubIssue"},
			Runs:              "whenever",
		})
		require.NoError(t, err)

		f.scheduler.runDueSyncs(context.Background())
		assert.Equal(t, 0, f.runner.calls)
	})
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)

	f.scheduler.Start()
	assert.True(t, f.scheduler.IsRunning())

	// Start is idempotent.
	f.scheduler.Start()

	f.scheduler.Stop()
	assert.False(t, f.scheduler.IsRunning())

	// Stop on a stopped scheduler is a no-op.
	f.scheduler.Stop()
}

func TestParseRuns(t *testing.T) {
	cases := []struct {
		expr    string
		want    time.Duration
		wantErr bool
	}{
		{"", 24 * time.Hour, false},
		{"every 30m", 30 * time.Minute, false},
		{"every 6h", 6 * time.Hour, false},
		{"every half hour", 30 * time.Minute, false},
		{"every hour", time.Hour, false},
		{"every day", 24 * time.Hour, false},
		{"every week", 7 * 24 * time.Hour, false},
		{"Every 1h", time.Hour, false},
		{"every 10s", 0, true},
		{"whenever", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseRuns(tc.expr)
		if tc.wantErr {
			assert.Error(t, err, tc.expr)
			continue
		}
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}
