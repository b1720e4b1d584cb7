package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/proxy"
)

// handleProxy forwards the request to the connection's provider API with
// freshly refreshed credentials. The connection is addressed through the
// Connection-Id and Provider-Config-Key headers, query params as a
// fallback.
func (s *Server) handleProxy(c *gin.Context) {
	connectionID := c.GetHeader("Connection-Id")
	if connectionID == "" {
		connectionID = c.Query("connection_id")
	}
	providerConfigKey := c.GetHeader("Provider-Config-Key")
	if providerConfigKey == "" {
		providerConfigKey = c.Query("provider_config_key")
	}
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
	if template.BaseAPIURL == "" {
		abortWithError(c, errors.Newf(errors.KindMissingBaseAPIURL, "provider", cfg.Provider))
		return
	}

	trail := s.deps.Reporter.Start(&models.ActivityLog{
		AccountID:         account,
		Action:            models.LogActionProxy,
		ConnectionID:      connectionID,
		ProviderConfigKey: providerConfigKey,
		Provider:          cfg.Provider,
	})

	creds, err := s.deps.Connections.RefreshIfNeeded(c.Request.Context(), conn, cfg, template, false, trail)
	if err != nil {
		trail.Close(false)
		abortWithError(c, err)
		return
	}

	query := c.Request.URL.Query()
	query.Del("connection_id")
	query.Del("provider_config_key")

	resp, err := s.deps.Forwarder.Forward(c.Request.Context(), template, creds.AccessToken, &proxy.Request{
		Method:  c.Request.Method,
		Path:    c.Param("path"),
		Query:   query,
		Headers: c.Request.Header,
		Body:    c.Request.Body,
	}, trail)
	if err != nil {
		trail.Close(false)
		abortWithError(c, err)
		return
	}
	defer resp.Body.Close()
	trail.Close(true)

	for name, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "failed to stream proxy response", "error", err.Error())
	}
}
