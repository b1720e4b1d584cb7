package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakemccloskey/nango/internal/models"
)

func TestWebhookNotifier(t *testing.T) {
	conn := &models.Connection{
		ConnectionID:      "conn-1",
		ProviderConfigKey: "github-prod",
		AccountID:         1,
	}
	result := models.SyncResult{Added: 3, Updated: 1}

	t.Run("posts per-model payload", func(t *testing.T) {
		var got WebhookPayload
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		}))
		defer upstream.Close()

		n := NewWebhookNotifier(upstream.URL, nil)
		now := time.Now()
		err := n.Notify(context.Background(), conn, "issues", "GithubIssue", result, models.SyncTypeIncremental, now, 42)
		require.NoError(t, err)

		assert.Equal(t, "conn-1", got.ConnectionID)
		assert.Equal(t, "github-prod", got.ProviderConfigKey)
		assert.Equal(t, "issues", got.SyncName)
		assert.Equal(t, "GithubIssue", got.Model)
		assert.Equal(t, result, got.ResponseResults)
		assert.Equal(t, string(models.SyncTypeIncremental), got.SyncType)
		assert.Equal(t, now.UnixMilli(), got.QueryTimeStamp)
		assert.Equal(t, int64(42), got.ActivityLogID, "payload carries the trail id")
	})

	t.Run("non-2xx response is an error", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer upstream.Close()

		n := NewWebhookNotifier(upstream.URL, nil)
		err := n.Notify(context.Background(), conn, "issues", "GithubIssue", result, models.SyncTypeInitial, time.Now(), 0)
		assert.Error(t, err)
	})

	t.Run("unreachable endpoint is an error", func(t *testing.T) {
		n := NewWebhookNotifier("http://127.0.0.1:1/webhook", nil)
		err := n.Notify(context.Background(), conn, "issues", "GithubIssue", result, models.SyncTypeInitial, time.Now(), 0)
		assert.Error(t, err)
	})
}
