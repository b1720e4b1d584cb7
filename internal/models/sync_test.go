package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobResults_ModelResult(t *testing.T) {
	t.Run("Structured Layout", func(t *testing.T) {
		results := JobResults{}
		results.SetModelResult("Issue", SyncResult{Added: 3, Updated: 1})

		res := results.ModelResult("Issue")
		assert.Equal(t, int64(3), res.Added)
		assert.Equal(t, int64(1), res.Updated)
	})

	t.Run("Legacy Flat Layout", func(t *testing.T) {
		var results JobResults
		require.NoError(t, json.Unmarshal([]byte(`{"added": 7, "updated": 2}`), &results))

		res := results.ModelResult("Issue")
		assert.Equal(t, int64(7), res.Added)
		assert.Equal(t, int64(2), res.Updated)
	})

	t.Run("Missing Model", func(t *testing.T) {
		results := JobResults{}
		res := results.ModelResult("Unknown")
		assert.Zero(t, res.Added)
		assert.Zero(t, res.Updated)
	})

	t.Run("Structured Wins Over Legacy Keys", func(t *testing.T) {
		var results JobResults
		require.NoError(t, json.Unmarshal([]byte(`{"Issue": {"added": 4, "updated": 0}, "added": 9}`), &results))

		res := results.ModelResult("Issue")
		assert.Equal(t, int64(4), res.Added)
	})
}

func TestSyncJob_Terminal(t *testing.T) {
	job := &SyncJob{Status: SyncStatusRunning}
	assert.False(t, job.Terminal())

	job.Status = SyncStatusSuccess
	assert.True(t, job.Terminal())

	job.Status = SyncStatusStopped
	assert.True(t, job.Terminal())
}
