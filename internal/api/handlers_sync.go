package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

type deploySyncConfigRequest struct {
	ProviderConfigKey string   `json:"provider_config_key"`
	SyncName          string   `json:"sync_name"`
	Models            []string `json:"models"`
	Runs              string   `json:"runs"`
	Version           string   `json:"version"`
	ScriptCommand     string   `json:"script_command"`
}

func (s *Server) handleDeploySyncConfig(c *gin.Context) {
	var req deploySyncConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.Newf(errors.KindBadRequest, "detail", err.Error()))
		return
	}
	if req.ProviderConfigKey == "" {
		abortWithError(c, errors.New(errors.KindMissingProviderConfig, nil))
		return
	}
	if req.SyncName == "" || len(req.Models) == 0 {
		abortWithError(c, errors.Newf(errors.KindBadRequest, "detail", "sync_name and models are required"))
		return
	}

	account := accountID(c)
	if _, _, err := s.resolveProvider(req.ProviderConfigKey, account); err != nil {
		abortWithError(c, err)
		return
	}

	cfg := &models.SyncConfig{
		AccountID:         account,
		ProviderConfigKey: req.ProviderConfigKey,
		SyncName:          req.SyncName,
		Models:            req.Models,
		Runs:              req.Runs,
		Version:           req.Version,
		ScriptCommand:     req.ScriptCommand,
	}
	id, err := s.deps.Store.SaveSyncConfig(cfg)
	if err != nil {
		abortWithError(c, err)
		return
	}
	cfg.ID = id
	c.JSON(http.StatusCreated, cfg)
}

func (s *Server) handleListSyncConfigs(c *gin.Context) {
	configs, err := s.deps.Store.ListSyncConfigs(accountID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if configs == nil {
		configs = []models.SyncConfig{}
	}
	c.JSON(http.StatusOK, gin.H{"syncs": configs})
}

type triggerSyncRequest struct {
	ConnectionID      string `json:"connection_id"`
	ProviderConfigKey string `json:"provider_config_key"`
	SyncName          string `json:"sync_name"`
}

// handleTriggerSync runs a deployed sync for one connection. The response
// carries the terminal job; failure detail lives in the activity log.
func (s *Server) handleTriggerSync(c *gin.Context) {
	var req triggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.Newf(errors.KindBadRequest, "detail", err.Error()))
		return
	}

	account := accountID(c)
	conn, err := s.deps.Connections.GetConnection(c.Request.Context(), req.ConnectionID, req.ProviderConfigKey, account)
	if err != nil {
		abortWithError(c, err)
		return
	}

	cfg, err := s.deps.Store.GetSyncConfig(account, req.ProviderConfigKey, req.SyncName)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if cfg == nil {
		abortWithError(c, errors.Newf(errors.KindUnknownSyncConfig, "sync_name", req.SyncName))
		return
	}

	syncType, err := s.deps.Syncs.SyncTypeFor(conn, req.SyncName)
	if err != nil {
		abortWithError(c, err)
		return
	}

	start := time.Now()
	job, err := s.deps.Syncs.Trigger(c.Request.Context(), conn, req.SyncName, syncType)
	if err != nil {
		s.deps.Metrics.RecordSyncRun(string(syncType), "ERROR", time.Since(start).Seconds())
		abortWithError(c, err)
		return
	}
	s.deps.Metrics.RecordSyncRun(string(syncType), string(job.Status), time.Since(start).Seconds())
	if job.Status == models.SyncStatusStopped && s.deps.Alerts != nil {
		s.deps.Alerts.NotifySyncStopped(account, req.ConnectionID, req.SyncName, job.ID)
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) handleGetSyncJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortWithError(c, errors.Newf(errors.KindBadRequest, "detail", "invalid sync job id"))
		return
	}

	job, err := s.deps.Store.GetSyncJob(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, errorBody{Type: "not_found", Error: "sync job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}
