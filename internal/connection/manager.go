// Package connection owns the connection record lifecycle and the token
// refresh protocol. The one concurrency guarantee that matters here: at
// most one refresh is in flight per (connection id, provider config key),
// and every concurrent caller observes that refresh's single outcome.
package connection

import (
	"context"

	"github.com/jakemccloskey/nango/internal/activity"
	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/provider"
	"github.com/jakemccloskey/nango/internal/store"
)

// Refresher exchanges stale credentials for fresh ones.
type Refresher interface {
	Refresh(ctx context.Context, cfg *models.ProviderConfig, template *models.ProviderTemplate, creds *models.OAuth2Credentials) (*models.OAuth2Credentials, error)
}

// Introspector checks token liveness for providers without expiry stamps.
type Introspector interface {
	TokenExpired(ctx context.Context, cfg *models.ProviderConfig, template *models.ProviderTemplate, creds *models.OAuth2Credentials) bool
}

// SyncScheduler kicks off initial syncs for freshly imported connections.
// Failures are logged, never propagated: the import already succeeded.
type SyncScheduler interface {
	ScheduleInitialSyncs(ctx context.Context, conn *models.Connection) error
}

// AnalyticsTracker receives tenant-level usage events.
type AnalyticsTracker interface {
	Track(event string, accountID int64, properties map[string]interface{})
}

type noopAnalytics struct{}

func (noopAnalytics) Track(string, int64, map[string]interface{}) {}

// Manager implements the connection lifecycle over a store.
type Manager struct {
	store        store.Store
	registry     *RefreshRegistry
	refresher    Refresher
	introspector Introspector
	scheduler    SyncScheduler
	analytics    AnalyticsTracker
	logger       *logging.Logger
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithIntrospector sets the token introspector.
func WithIntrospector(i Introspector) ManagerOption {
	return func(m *Manager) { m.introspector = i }
}

// WithSyncScheduler sets the collaborator notified after imports.
func WithSyncScheduler(s SyncScheduler) ManagerOption {
	return func(m *Manager) { m.scheduler = s }
}

// WithAnalytics sets the usage event sink.
func WithAnalytics(a AnalyticsTracker) ManagerOption {
	return func(m *Manager) { m.analytics = a }
}

// NewManager creates a connection manager. The refresh registry is owned
// by the manager instance, not process-global, so independent managers
// never share in-flight state.
func NewManager(s store.Store, registry *RefreshRegistry, refresher Refresher, opts ...ManagerOption) *Manager {
	if registry == nil {
		registry = NewRefreshRegistry()
	}
	m := &Manager{
		store:     s,
		registry:  registry,
		refresher: refresher,
		analytics: noopAnalytics{},
		logger:    logging.NewLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UpsertConnection inserts or merges a connection keyed by its identity
// tuple. On conflict the credentials, config and metadata are overwritten.
func (m *Manager) UpsertConnection(ctx context.Context, conn *models.Connection) (*models.ConnectionRef, error) {
	if err := m.validateIdentity(conn.ConnectionID, conn.ProviderConfigKey); err != nil {
		return nil, err
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	id, err := m.store.UpsertConnection(conn)
	if err != nil {
		return nil, err
	}
	conn.ID = id

	m.analytics.Track("connection_upserted", conn.AccountID, map[string]interface{}{
		"provider_config_key": conn.ProviderConfigKey,
	})

	ref := conn.Ref()
	return &ref, nil
}

// GetConnection retrieves a connection and normalizes any raw expiry into
// an absolute timestamp on its OAuth2 credentials.
func (m *Manager) GetConnection(ctx context.Context, connectionID, providerConfigKey string, accountID int64) (*models.Connection, error) {
	if err := m.validateIdentity(connectionID, providerConfigKey); err != nil {
		return nil, err
	}

	conn, err := m.store.GetConnection(connectionID, providerConfigKey, accountID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New(errors.KindUnknownConnection, map[string]interface{}{
			"connection_id":       connectionID,
			"provider_config_key": providerConfigKey,
		})
	}

	normalizeExpiry(conn)
	return conn, nil
}

// ImportConnection registers externally obtained credentials as a new
// connection. Unlike upsert it refuses to overwrite an existing tuple,
// and on success it schedules the connection's initial syncs.
func (m *Manager) ImportConnection(ctx context.Context, conn *models.Connection) (*models.ConnectionRef, error) {
	if err := m.validateIdentity(conn.ConnectionID, conn.ProviderConfigKey); err != nil {
		return nil, err
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	existing, err := m.store.GetConnection(conn.ConnectionID, conn.ProviderConfigKey, conn.AccountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.New(errors.KindConnectionAlreadyExists, map[string]interface{}{
			"connection_id":       conn.ConnectionID,
			"provider_config_key": conn.ProviderConfigKey,
		})
	}

	id, err := m.store.UpsertConnection(conn)
	if err != nil {
		return nil, err
	}
	conn.ID = id

	m.analytics.Track("connection_imported", conn.AccountID, map[string]interface{}{
		"provider_config_key": conn.ProviderConfigKey,
	})

	if m.scheduler != nil {
		if err := m.scheduler.ScheduleInitialSyncs(ctx, conn); err != nil {
			m.logger.Error("failed to schedule initial syncs for imported connection",
				"connection_id", conn.ConnectionID, "error", err.Error())
		}
	}

	ref := conn.Ref()
	return &ref, nil
}

// DeleteConnection removes a connection, failing when the tuple is
// unknown.
func (m *Manager) DeleteConnection(ctx context.Context, connectionID, providerConfigKey string, accountID int64) error {
	if err := m.validateIdentity(connectionID, providerConfigKey); err != nil {
		return err
	}

	n, err := m.store.DeleteConnection(connectionID, providerConfigKey, accountID)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New(errors.KindUnknownConnection, map[string]interface{}{
			"connection_id":       connectionID,
			"provider_config_key": providerConfigKey,
		})
	}
	return nil
}

// ListConnections returns connection identities for an account,
// optionally filtered by connection id.
func (m *Manager) ListConnections(ctx context.Context, accountID int64, connectionID string) ([]models.ConnectionRef, error) {
	return m.store.ListConnections(accountID, connectionID)
}

// RefreshIfNeeded returns fresh OAuth2 credentials for the connection,
// refreshing through the provider when required. Concurrent callers for
// the same dedup key coalesce onto a single provider call and all receive
// its result. A failed refresh leaves the stored connection untouched.
func (m *Manager) RefreshIfNeeded(ctx context.Context, conn *models.Connection, cfg *models.ProviderConfig, template *models.ProviderTemplate, forceRefresh bool, trail *activity.Trail) (*models.OAuth2Credentials, error) {
	creds := oauth2Credentials(conn.Credentials)
	if creds == nil {
		return nil, errors.Newf(errors.KindUnknownCredentialsMode, "mode", string(conn.Credentials.Mode()))
	}

	key := refreshKey{conn.ConnectionID, conn.ProviderConfigKey}

	// Join a refresh already in flight before doing any staleness math.
	if task, ok := m.registry.lookup(key); ok {
		return task.await(ctx)
	}

	if !m.shouldRefresh(ctx, cfg, template, creds, forceRefresh) {
		return creds, nil
	}

	// Claim the key before any network I/O. Losing the claim race means
	// another caller got here first; await their result.
	task, owner := m.registry.begin(key)
	if !owner {
		return task.await(ctx)
	}

	if trail != nil {
		trail.Info("refreshing expired token for connection %s", conn.ConnectionID)
	}

	refreshed, err := m.refresher.Refresh(ctx, cfg, template, creds)
	if err != nil {
		if trail != nil {
			trail.Error("token refresh failed for connection %s: %s", conn.ConnectionID, err.Error())
		}
		m.registry.finish(key, task, nil, err)
		return nil, err
	}

	updated := *conn
	updated.Credentials = refreshed
	if err := m.store.UpdateConnectionCredentials(&updated); err != nil {
		if trail != nil {
			trail.Error("failed to persist refreshed token for connection %s: %s", conn.ConnectionID, err.Error())
		}
		m.registry.finish(key, task, nil, err)
		return nil, err
	}
	conn.Credentials = refreshed

	if trail != nil {
		trail.Info("token refresh completed for connection %s", conn.ConnectionID)
	}

	m.registry.finish(key, task, refreshed, nil)
	return refreshed, nil
}

// shouldRefresh applies the staleness policy. A connection without a
// refresh token never refreshes, expired or not.
func (m *Manager) shouldRefresh(ctx context.Context, cfg *models.ProviderConfig, template *models.ProviderTemplate, creds *models.OAuth2Credentials, forceRefresh bool) bool {
	if creds.RefreshToken == "" {
		return false
	}
	if forceRefresh {
		return true
	}
	if m.introspector != nil && provider.ShouldIntrospectToken(cfg.Provider) {
		if m.introspector.TokenExpired(ctx, cfg, template, creds) {
			return true
		}
		// A live introspection verdict does not override a stamped
		// expiry that has already passed the buffer.
	}
	if creds.ExpiresAt == nil {
		return false
	}
	return creds.Expired(template.ExpirationBuffer())
}

func (m *Manager) validateIdentity(connectionID, providerConfigKey string) error {
	if connectionID == "" {
		return errors.New(errors.KindMissingConnection, nil)
	}
	if providerConfigKey == "" {
		return errors.New(errors.KindMissingProviderConfig, nil)
	}
	return nil
}

// oauth2Credentials unwraps the credential union down to its OAuth2
// material, covering the imported variant too.
func oauth2Credentials(creds models.Credentials) *models.OAuth2Credentials {
	switch c := creds.(type) {
	case *models.OAuth2Credentials:
		return c
	case *models.ImportedCredentials:
		return &c.OAuth2Credentials
	default:
		return nil
	}
}

// normalizeExpiry backfills an absolute expiry from the raw payload for
// credentials stored before the expiry was parsed.
func normalizeExpiry(conn *models.Connection) {
	creds := oauth2Credentials(conn.Credentials)
	if creds == nil || creds.ExpiresAt != nil || creds.Raw == nil {
		return
	}
	creds.ExpiresAt = parseExpiry(creds.Raw)
}
