package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jakemccloskey/nango/internal/connection"
	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

// connectionRequest is the write payload shared by upsert and import.
// Credentials arrive as the raw provider token response; the provider
// config's template decides how they are parsed.
type connectionRequest struct {
	ConnectionID      string                 `json:"connection_id"`
	ProviderConfigKey string                 `json:"provider_config_key"`
	Credentials       map[string]interface{} `json:"credentials"`
	ConnectionConfig  map[string]string      `json:"connection_config"`
	Metadata          map[string]string      `json:"metadata"`
}

func (s *Server) handleUpsertConnection(c *gin.Context) {
	conn, err := s.bindConnection(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ref, err := s.deps.Connections.UpsertConnection(c.Request.Context(), conn)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (s *Server) handleImportConnection(c *gin.Context) {
	conn, err := s.bindConnection(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ref, err := s.deps.Connections.ImportConnection(c.Request.Context(), conn)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}

// bindConnection parses the request body and converts the raw credential
// object into its typed form using the provider template's auth mode.
func (s *Server) bindConnection(c *gin.Context) (*models.Connection, error) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, errors.Newf(errors.KindBadRequest, "detail", err.Error())
	}
	if req.ConnectionID == "" {
		return nil, errors.New(errors.KindMissingConnection, nil)
	}
	if req.ProviderConfigKey == "" {
		return nil, errors.New(errors.KindMissingProviderConfig, nil)
	}

	account := accountID(c)
	_, template, err := s.resolveProvider(req.ProviderConfigKey, account)
	if err != nil {
		return nil, err
	}

	creds, err := connection.ParseRawCredentials(req.Credentials, template.AuthMode)
	if err != nil {
		return nil, err
	}

	return &models.Connection{
		ConnectionID:      req.ConnectionID,
		ProviderConfigKey: req.ProviderConfigKey,
		AccountID:         account,
		Credentials:       creds,
		ConnectionConfig:  req.ConnectionConfig,
		Metadata:          req.Metadata,
	}, nil
}

// handleGetConnection returns a connection with live credentials: stale
// OAuth2 tokens are refreshed before the response is written.
func (s *Server) handleGetConnection(c *gin.Context) {
	connectionID := c.Param("connectionId")
	providerConfigKey := c.Query("provider_config_key")
	forceRefresh := c.Query("force_refresh") == "true"
	account := accountID(c)

	conn, err := s.deps.Connections.GetConnection(c.Request.Context(), connectionID, providerConfigKey, account)
	if err != nil {
		abortWithError(c, err)
		return
	}

	cfg, template, err := s.resolveProvider(providerConfigKey, account)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if conn.Credentials.Mode() == models.AuthModeOAuth2 {
		trail := s.deps.Reporter.Start(&models.ActivityLog{
			AccountID:         account,
			Action:            models.LogActionToken,
			ConnectionID:      connectionID,
			ProviderConfigKey: providerConfigKey,
			Provider:          cfg.Provider,
		})

		before := accessTokenOf(conn)
		_, err := s.deps.Connections.RefreshIfNeeded(c.Request.Context(), conn, cfg, template, forceRefresh, trail)
		if err != nil {
			s.deps.Metrics.RecordTokenRefresh(cfg.Provider, "error")
			if s.deps.Alerts != nil {
				s.deps.Alerts.NotifyRefreshFailure(account, connectionID, providerConfigKey, cfg.Provider, err.Error())
			}
			trail.Close(false)
			abortWithError(c, err)
			return
		}
		if accessTokenOf(conn) != before {
			s.deps.Metrics.RecordTokenRefresh(cfg.Provider, "success")
		}
		trail.Close(true)
	}

	c.JSON(http.StatusOK, conn)
}

func (s *Server) handleDeleteConnection(c *gin.Context) {
	connectionID := c.Param("connectionId")
	providerConfigKey := c.Query("provider_config_key")

	err := s.deps.Connections.DeleteConnection(c.Request.Context(), connectionID, providerConfigKey, accountID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleListConnections(c *gin.Context) {
	refs, err := s.deps.Connections.ListConnections(c.Request.Context(), accountID(c), c.Query("connection_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if refs == nil {
		refs = []models.ConnectionRef{}
	}
	c.JSON(http.StatusOK, gin.H{"connections": refs})
}

// resolveProvider loads the provider config and its template, classifying
// the two lookup failures.
func (s *Server) resolveProvider(providerConfigKey string, account int64) (*models.ProviderConfig, *models.ProviderTemplate, error) {
	cfg, err := s.deps.Store.GetProviderConfig(providerConfigKey, account)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		return nil, nil, errors.Newf(errors.KindUnknownProviderConfig, "provider_config_key", providerConfigKey)
	}

	template, ok := s.deps.Templates.Get(cfg.Provider)
	if !ok {
		return nil, nil, errors.Newf(errors.KindUnknownProviderTemplate, "provider", cfg.Provider)
	}
	return cfg, &template, nil
}

func accessTokenOf(conn *models.Connection) string {
	switch creds := conn.Credentials.(type) {
	case *models.OAuth2Credentials:
		return creds.AccessToken
	case *models.ImportedCredentials:
		return creds.AccessToken
	default:
		return ""
	}
}
