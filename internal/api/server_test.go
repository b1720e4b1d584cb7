package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakemccloskey/nango/internal/activity"
	"github.com/jakemccloskey/nango/internal/config"
	"github.com/jakemccloskey/nango/internal/connection"
	"github.com/jakemccloskey/nango/internal/metrics"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/proxy"
	"github.com/jakemccloskey/nango/internal/store"
	syncs "github.com/jakemccloskey/nango/internal/sync"
)

// payload is shorthand for JSON request bodies.
type payload = map[string]interface{}

type stubRefresher struct {
	creds *models.OAuth2Credentials
	err   error
	calls int
}

func (r *stubRefresher) Refresh(ctx context.Context, cfg *models.ProviderConfig, template *models.ProviderTemplate, creds *models.OAuth2Credentials) (*models.OAuth2Credentials, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.creds, nil
}

type stubRunner struct {
	results syncs.RawResults
	err     error
}

func (r *stubRunner) Run(ctx context.Context, cfg *models.SyncConfig, input syncs.ScriptInput) (syncs.RawResults, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.results, nil
}

type apiFixture struct {
	server    *Server
	store     *store.MemoryStore
	refresher *stubRefresher
	runner    *stubRunner
}

func newTestServer(t *testing.T, secretKeys []string, baseAPIURL string) *apiFixture {
	t.Helper()

	templatesPath := filepath.Join(t.TempDir(), "providers.yaml")
	templatesYAML := fmt.Sprintf(`github:
  auth_mode: OAUTH2
  authorization_url: https://github.com/login/oauth/authorize
  token_url: https://github.com/login/oauth/access_token
  base_api_url: %q
trello:
  auth_mode: OAUTH1
  authorization_url: https://trello.com/1/authorize
  token_url: https://trello.com/1/OAuthGetAccessToken
`, baseAPIURL)
	require.NoError(t, os.WriteFile(templatesPath, []byte(templatesYAML), 0o644))

	templates, err := config.NewTemplateRegistry(templatesPath)
	require.NoError(t, err)

	ms := store.NewMemoryStore()
	refresher := &stubRefresher{}
	runner := &stubRunner{}
	reporter := activity.NewReporter(ms)

	manager := connection.NewManager(ms, nil, refresher)
	engine := syncs.NewEngine(ms, runner, nil)
	service := syncs.NewService(ms, engine, reporter)

	server := NewServer(config.ServerConfig{}, config.APIConfig{SecretKeys: secretKeys}, Dependencies{
		Store:       ms,
		Connections: manager,
		Syncs:       service,
		Templates:   templates,
		Reporter:    reporter,
		Forwarder:   proxy.NewForwarder(nil),
		Metrics:     metrics.NewMetrics("test"),
	})

	return &apiFixture{server: server, store: ms, refresher: refresher, runner: runner}
}

func (f *apiFixture) do(t *testing.T, method, path, secretKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+secretKey)
	}

	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func (f *apiFixture) createProviderConfig(t *testing.T, secretKey, key, provider string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/config", secretKey, payload{
		"provider_config_key": key,
		"provider":            provider,
		"oauth_client_id":     "client-id",
		"oauth_client_secret": "client-secret",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (f *apiFixture) upsertConnection(t *testing.T, secretKey, connectionID, providerConfigKey string, credentials payload) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/connection", secretKey, payload{
		"connection_id":       connectionID,
		"provider_config_key": providerConfigKey,
		"credentials":         credentials,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newTestServer(t, []string{"secret-1"}, "")

	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecretKeyAuth(t *testing.T) {
	f := newTestServer(t, []string{"secret-1", "secret-2"}, "")

	t.Run("missing header", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/connection", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "missing_auth_header", decodeBody(t, w)["type"])
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/connection", nil)
		req.Header.Set("Authorization", "secret-1")
		w := httptest.NewRecorder()
		f.server.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "malformed_auth_header", decodeBody(t, w)["type"])
	})

	t.Run("unknown key", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/connection", "who-dis", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "unknown_account", decodeBody(t, w)["type"])
	})

	t.Run("valid key", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/connection", "secret-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("accounts are isolated by key", func(t *testing.T) {
		f.createProviderConfig(t, "secret-1", "github-prod", "github")
		f.upsertConnection(t, "secret-1", "conn-iso", "github-prod", payload{"access_token": "tok"})

		w := f.do(t, http.MethodGet, "/connection/conn-iso?provider_config_key=github-prod", "secret-2", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = f.do(t, http.MethodGet, "/connection/conn-iso?provider_config_key=github-prod", "secret-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestLocalModeWithoutSecretKeys(t *testing.T) {
	f := newTestServer(t, nil, "")

	w := f.do(t, http.MethodGet, "/connection", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProviderConfigEndpoints(t *testing.T) {
	f := newTestServer(t, []string{"secret-1"}, "")

	t.Run("create", func(t *testing.T) {
		f.createProviderConfig(t, "secret-1", "github-prod", "github")
	})

	t.Run("duplicate key conflicts", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/config", "secret-1", payload{
			"provider_config_key": "github-prod",
			"provider":            "github",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "duplicate_provider_config", decodeBody(t, w)["type"])
	})

	t.Run("unknown provider template rejected", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/config", "secret-1", payload{
			"provider_config_key": "mystery",
			"provider":            "mystery-api",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "unknown_provider_template", decodeBody(t, w)["type"])
	})

	t.Run("get", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/config/github-prod", "secret-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "github", decodeBody(t, w)["provider"])
	})

	t.Run("get unknown", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/config/nope", "secret-1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "unknown_provider_config", decodeBody(t, w)["type"])
	})

	t.Run("update requires existing config", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/config", "secret-1", payload{
			"provider_config_key": "nope",
			"provider":            "github",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "unknown_provider_config", decodeBody(t, w)["type"])

		w = f.do(t, http.MethodPut, "/config", "secret-1", payload{
			"provider_config_key": "github-prod",
			"provider":            "github",
			"oauth_client_id":     "rotated-id",
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/config", "secret-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		configs := decodeBody(t, w)["configs"].([]interface{})
		assert.Len(t, configs, 1)
	})
}

func TestConnectionEndpoints(t *testing.T) {
	f := newTestServer(t, []string{"secret-1"}, "")
	f.createProviderConfig(t, "secret-1", "github-prod", "github")

	t.Run("upsert and get", func(t *testing.T) {
		f.upsertConnection(t, "secret-1", "conn-1", "github-prod", payload{"access_token": "tok-1"})

		w := f.do(t, http.MethodGet, "/connection/conn-1?provider_config_key=github-prod", "secret-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "tok-1")
	})

	t.Run("missing provider config key param", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/connection/conn-1", "secret-1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "missing_provider_config", decodeBody(t, w)["type"])
	})

	t.Run("unknown connection", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/connection/ghost?provider_config_key=github-prod", "secret-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "unknown_connection", decodeBody(t, w)["type"])
	})

	t.Run("incomplete credentials rejected", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/connection", "secret-1", payload{
			"connection_id":       "conn-bad",
			"provider_config_key": "github-prod",
			"credentials":         payload{"refresh_token": "only-refresh"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "incomplete_raw_credentials", decodeBody(t, w)["type"])
	})

	t.Run("list", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/connection", "secret-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		conns := decodeBody(t, w)["connections"].([]interface{})
		assert.Len(t, conns, 1)
	})

	t.Run("import refuses existing tuple", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/connection/import", "secret-1", payload{
			"connection_id":       "conn-1",
			"provider_config_key": "github-prod",
			"credentials":         payload{"access_token": "imported"},
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "connection_already_exists", decodeBody(t, w)["type"])
	})

	t.Run("import fresh tuple", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/connection/import", "secret-1", payload{
			"connection_id":       "conn-2",
			"provider_config_key": "github-prod",
			"credentials":         payload{"access_token": "imported"},
		})
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/connection/conn-2?provider_config_key=github-prod", "secret-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, http.MethodDelete, "/connection/conn-2?provider_config_key=github-prod", "secret-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetConnectionRefreshOnRead(t *testing.T) {
	f := newTestServer(t, []string{"secret-1"}, "")
	f.createProviderConfig(t, "secret-1", "github-prod", "github")

	fresh := time.Now().Add(2 * time.Hour)
	f.refresher.creds = &models.OAuth2Credentials{
		AccessToken:  "fresh-token",
		RefreshToken: "rt-1",
		ExpiresAt:    &fresh,
	}

	t.Run("stale token is refreshed before the response", func(t *testing.T) {
		f.upsertConnection(t, "secret-1", "conn-stale", "github-prod", payload{
			"access_token":  "stale-token",
			"refresh_token": "rt-1",
			"expires_in":    60,
		})

		w := f.do(t, http.MethodGet, "/connection/conn-stale?provider_config_key=github-prod", "secret-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "fresh-token")
		assert.Equal(t, 1, f.refresher.calls)

		// The refreshed token is persisted, so the next read does not
		// hit the provider again.
		w = f.do(t, http.MethodGet, "/connection/conn-stale?provider_config_key=github-prod", "secret-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "fresh-token")
		assert.Equal(t, 1, f.refresher.calls)
	})

	t.Run("force refresh bypasses staleness", func(t *testing.T) {
		before := f.refresher.calls
		w := f.do(t, http.MethodGet, "/connection/conn-stale?provider_config_key=github-prod&force_refresh=true", "secret-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, before+1, f.refresher.calls)
	})

	t.Run("refresh failure surfaces the classified error", func(t *testing.T) {
		f.upsertConnection(t, "secret-1", "conn-fail", "github-prod", payload{
			"access_token":  "stale",
			"refresh_token": "rt-2",
			"expires_in":    60,
		})
		f.refresher.err = fmt.Errorf("provider is down")

		w := f.do(t, http.MethodGet, "/connection/conn-fail?provider_config_key=github-prod", "secret-1", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		f.refresher.err = nil
	})
}

func TestSyncEndpoints(t *testing.T) {
	f := newTestServer(t, []string{"secret-1"}, "")
	f.createProviderConfig(t, "secret-1", "github-prod", "github")
	f.upsertConnection(t, "secret-1", "conn-1", "github-prod", payload{"access_token": "tok"})

	t.Run("deploy", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/sync/deploy", "secret-1", payload{
			"provider_config_key": "github-prod",
			"sync_name":           "issues",
			"models":              []string{"GithubIssue"},
			"runs":                "every 6h",
			"script_command":      "echo '{}'",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})

	t.Run("list configs", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/sync/configs", "secret-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		list := decodeBody(t, w)["syncs"].([]interface{})
		assert.Len(t, list, 1)
	})

	t.Run("trigger runs the sync to success", func(t *testing.T) {
		f.runner.results = syncs.RawResults{
			"GithubIssue": {
				{"id": "1", "title": "first"},
				{"id": "2", "title": "second"},
			},
		}

		w := f.do(t, http.MethodPost, "/sync/trigger", "secret-1", payload{
			"connection_id":       "conn-1",
			"provider_config_key": "github-prod",
			"sync_name":           "issues",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decodeBody(t, w)
		assert.Equal(t, "SUCCESS", body["status"])
		jobID := int64(body["id"].(float64))

		jw := f.do(t, http.MethodGet, fmt.Sprintf("/sync/jobs/%d", jobID), "secret-1", nil)
		require.Equal(t, http.StatusOK, jw.Code)
		assert.Contains(t, jw.Body.String(), "GithubIssue")
	})

	t.Run("trigger unknown sync config", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/sync/trigger", "secret-1", payload{
			"connection_id":       "conn-1",
			"provider_config_key": "github-prod",
			"sync_name":           "ghost-sync",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "unknown_sync_config", decodeBody(t, w)["type"])
	})

	t.Run("script failure yields a stopped job not an error", func(t *testing.T) {
		f.runner.results = nil
		f.runner.err = fmt.Errorf("connection reset")

		w := f.do(t, http.MethodPost, "/sync/trigger", "secret-1", payload{
			"connection_id":       "conn-1",
			"provider_config_key": "github-prod",
			"sync_name":           "issues",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "STOPPED", decodeBody(t, w)["status"])
		f.runner.err = nil
	})

	t.Run("unknown sync job id", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/sync/jobs/424242", "secret-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestActivityEndpoints(t *testing.T) {
	f := newTestServer(t, []string{"secret-1"}, "")
	f.createProviderConfig(t, "secret-1", "github-prod", "github")
	f.upsertConnection(t, "secret-1", "conn-1", "github-prod", payload{"access_token": "tok"})

	// A read of an OAuth2 connection opens a token activity log.
	w := f.do(t, http.MethodGet, "/connection/conn-1?provider_config_key=github-prod", "secret-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/activity", "secret-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decodeBody(t, w)["logs"].([]interface{})
	require.NotEmpty(t, logs)

	first := logs[0].(map[string]interface{})
	logID := int64(first["id"].(float64))

	w = f.do(t, http.MethodGet, fmt.Sprintf("/activity/%d/messages", logID), "secret-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestProxyEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q,"auth":%q}`, r.URL.Path, r.Header.Get("Authorization"))
	}))
	defer upstream.Close()

	f := newTestServer(t, []string{"secret-1"}, upstream.URL)
	f.createProviderConfig(t, "secret-1", "github-prod", "github")
	f.upsertConnection(t, "secret-1", "conn-1", "github-prod", payload{"access_token": "tok-proxy"})

	t.Run("forwards with refreshed credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/proxy/user/repos", nil)
		req.Header.Set("Authorization", "Bearer secret-1")
		req.Header.Set("Connection-Id", "conn-1")
		req.Header.Set("Provider-Config-Key", "github-prod")

		w := httptest.NewRecorder()
		f.server.Router().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"path":"/user/repos"`)
		assert.Contains(t, w.Body.String(), "Bearer tok-proxy")
	})

	t.Run("query params address the connection too", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/proxy/user?connection_id=conn-1&provider_config_key=github-prod", "secret-1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"path":"/user"`)
	})

	t.Run("upstream 404 is classified", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/proxy/missing?connection_id=conn-1&provider_config_key=github-prod", "secret-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "unknown_endpoint", decodeBody(t, w)["type"])
	})

	t.Run("unknown connection", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/proxy/user?connection_id=ghost&provider_config_key=github-prod", "secret-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
