package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

type providerConfigRequest struct {
	ProviderConfigKey string `json:"provider_config_key"`
	Provider          string `json:"provider"`
	OAuthClientID     string `json:"oauth_client_id"`
	OAuthClientSecret string `json:"oauth_client_secret"`
	OAuthScopes       string `json:"oauth_scopes"`
}

func (s *Server) handleCreateProviderConfig(c *gin.Context) {
	cfg, err := s.bindProviderConfig(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	existing, err := s.deps.Store.GetProviderConfig(cfg.UniqueKey, cfg.AccountID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if existing != nil {
		abortWithError(c, errors.Newf(errors.KindDuplicateProviderConfig, "provider_config_key", cfg.UniqueKey))
		return
	}

	id, err := s.deps.Store.SaveProviderConfig(cfg)
	if err != nil {
		abortWithError(c, err)
		return
	}
	cfg.ID = id
	c.JSON(http.StatusCreated, cfg)
}

func (s *Server) handleUpdateProviderConfig(c *gin.Context) {
	cfg, err := s.bindProviderConfig(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	existing, err := s.deps.Store.GetProviderConfig(cfg.UniqueKey, cfg.AccountID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if existing == nil {
		abortWithError(c, errors.Newf(errors.KindUnknownProviderConfig, "provider_config_key", cfg.UniqueKey))
		return
	}

	id, err := s.deps.Store.SaveProviderConfig(cfg)
	if err != nil {
		abortWithError(c, err)
		return
	}
	cfg.ID = id
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) bindProviderConfig(c *gin.Context) (*models.ProviderConfig, error) {
	var req providerConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, errors.Newf(errors.KindBadRequest, "detail", err.Error())
	}
	if req.ProviderConfigKey == "" {
		return nil, errors.New(errors.KindMissingProviderConfig, nil)
	}

	if _, ok := s.deps.Templates.Get(req.Provider); !ok {
		return nil, errors.Newf(errors.KindUnknownProviderTemplate, "provider", req.Provider)
	}

	cfg := &models.ProviderConfig{
		UniqueKey:         req.ProviderConfigKey,
		Provider:          req.Provider,
		OAuthClientID:     req.OAuthClientID,
		OAuthClientSecret: req.OAuthClientSecret,
		OAuthScopes:       req.OAuthScopes,
		AccountID:         accountID(c),
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Newf(errors.KindBadRequest, "detail", err.Error())
	}
	return cfg, nil
}

func (s *Server) handleGetProviderConfig(c *gin.Context) {
	key := c.Param("providerConfigKey")

	cfg, err := s.deps.Store.GetProviderConfig(key, accountID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if cfg == nil {
		abortWithError(c, errors.Newf(errors.KindUnknownProviderConfig, "provider_config_key", key))
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleListProviderConfigs(c *gin.Context) {
	configs, err := s.deps.Store.ListProviderConfigs(accountID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if configs == nil {
		configs = []models.ProviderConfig{}
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}
