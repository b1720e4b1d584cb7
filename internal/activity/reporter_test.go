package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/store"
)

func TestReporterTrail(t *testing.T) {
	s := store.NewMemoryStore()
	r := NewReporter(s)

	trail := r.Start(&models.ActivityLog{
		AccountID:         1,
		Action:            models.LogActionToken,
		ConnectionID:      "conn-1",
		ProviderConfigKey: "github-prod",
	})
	require.Greater(t, trail.ID(), int64(0))

	trail.Info("refreshing token for %s", "conn-1")
	trail.Error("refresh failed: %s", "invalid_grant")
	trail.Close(false)

	logs, err := s.ListActivityLogs(1, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.NotZero(t, logs[0].Timestamp)
	require.NotNil(t, logs[0].Success)
	assert.False(t, *logs[0].Success)
	require.NotNil(t, logs[0].End)

	msgs, err := s.ListActivityLogMessages(trail.ID())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "refreshing token for conn-1", msgs[0].Content)
	assert.Equal(t, "error", msgs[1].Level)
}

func TestReporterNoopTrail(t *testing.T) {
	trail := &Trail{}
	assert.Zero(t, trail.ID())
	trail.Info("dropped")
	trail.Close(true)
}
