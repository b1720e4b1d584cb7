package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakemccloskey/nango/internal/models"
)

func execConfig(command string) *models.SyncConfig {
	return &models.SyncConfig{
		SyncName:      "github-issues",
		Models:        []string{"GithubIssue"},
		ScriptCommand: command,
	}
}

func TestExecScriptRunner(t *testing.T) {
	input := ScriptInput{
		ConnectionID:      "conn-1",
		ProviderConfigKey: "github-prod",
		SyncName:          "github-issues",
		Models:            []string{"GithubIssue"},
	}

	t.Run("parses model results from stdout", func(t *testing.T) {
		r := NewExecScriptRunner(0)
		results, err := r.Run(context.Background(), execConfig(`echo '{"GithubIssue":[{"id":"1"},{"id":"2"}]}'`), input)
		require.NoError(t, err)
		require.Len(t, results["GithubIssue"], 2)
		assert.Equal(t, "1", results["GithubIssue"][0]["id"])
	})

	t.Run("null output means no results", func(t *testing.T) {
		r := NewExecScriptRunner(0)
		results, err := r.Run(context.Background(), execConfig(`echo null`), input)
		require.NoError(t, err)
		assert.Nil(t, results)
	})

	t.Run("script receives input on stdin", func(t *testing.T) {
		r := NewExecScriptRunner(0)
		script := `if grep -q conn-1; then echo '{"GithubIssue":[{"id":"saw-input"}]}'; else echo '{"GithubIssue":[]}'; fi`
		results, err := r.Run(context.Background(), execConfig(script), input)
		require.NoError(t, err)
		require.Len(t, results["GithubIssue"], 1)
		assert.Equal(t, "saw-input", results["GithubIssue"][0]["id"])
	})

	t.Run("exit failure carries stderr", func(t *testing.T) {
		r := NewExecScriptRunner(0)
		_, err := r.Run(context.Background(), execConfig(`echo "rate limited" >&2; exit 3`), input)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "github-issues")
		assert.Contains(t, err.Error(), "rate limited")
	})

	t.Run("invalid json fails", func(t *testing.T) {
		r := NewExecScriptRunner(0)
		_, err := r.Run(context.Background(), execConfig(`echo not-json`), input)
		require.Error(t, err)
	})

	t.Run("missing command fails", func(t *testing.T) {
		r := NewExecScriptRunner(0)
		_, err := r.Run(context.Background(), execConfig("  "), input)
		require.Error(t, err)
	})

	t.Run("timeout kills the script", func(t *testing.T) {
		r := NewExecScriptRunner(50 * time.Millisecond)
		start := time.Now()
		_, err := r.Run(context.Background(), execConfig(`sleep 5`), input)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestFormatRecords(t *testing.T) {
	t.Run("attaches routing columns and shared batch id", func(t *testing.T) {
		raw := []map[string]interface{}{
			{"id": "a", "title": "one"},
			{"id": float64(42), "title": "two"},
		}
		records, err := formatRecords(raw, "GithubIssue", 7, "sync-uuid", 99)
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, "a", records[0].ExternalID)
		assert.Equal(t, "42", records[1].ExternalID, "numeric ids normalize to strings")
		assert.Equal(t, int64(7), records[0].ConnectionID)
		assert.Equal(t, "GithubIssue", records[0].Model)
		assert.Equal(t, int64(99), records[0].SyncJobID)
		assert.NotEmpty(t, records[0].BatchID)
		assert.Equal(t, records[0].BatchID, records[1].BatchID)
	})

	t.Run("record without id fails", func(t *testing.T) {
		_, err := formatRecords([]map[string]interface{}{{"title": "no id"}}, "GithubIssue", 7, "s", 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no id field")
	})

	t.Run("empty batch is nil", func(t *testing.T) {
		records, err := formatRecords(nil, "GithubIssue", 7, "s", 1)
		require.NoError(t, err)
		assert.Nil(t, records)
	})
}

func TestResolveLocal(t *testing.T) {
	dir := t.TempDir()
	writeLocalConfig(t, dir)

	cfg, err := ResolveLocal(dir, "github-prod", "github-issues")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"GithubIssue"}, cfg.Models)
	assert.Equal(t, "./sync.sh", cfg.ScriptCommand)

	cfg, err = ResolveLocal(dir, "github-prod", "unknown")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = ResolveLocal(t.TempDir(), "github-prod", "github-issues")
	require.Error(t, err)
}
