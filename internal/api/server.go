// Package api exposes the HTTP surface: connection lifecycle, credential
// fetch with refresh-on-read, sync triggers, activity log reads and the
// provider proxy. Handlers translate classified errors into their fixed
// HTTP statuses; everything else degrades to a 500.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jakemccloskey/nango/internal/activity"
	"github.com/jakemccloskey/nango/internal/config"
	"github.com/jakemccloskey/nango/internal/connection"
	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/metrics"
	"github.com/jakemccloskey/nango/internal/proxy"
	"github.com/jakemccloskey/nango/internal/store"
	syncs "github.com/jakemccloskey/nango/internal/sync"
)

// AlertSink receives operator notifications for failures worth waking
// someone up for. A nil sink disables alerting.
type AlertSink interface {
	NotifyRefreshFailure(accountID int64, connectionID, providerConfigKey, provider, reason string)
	NotifySyncStopped(accountID int64, connectionID, syncName string, jobID int64)
}

// Dependencies carries the wired collaborators the server routes to.
type Dependencies struct {
	Store       store.Store
	Connections *connection.Manager
	Syncs       *syncs.Service
	Templates   *config.TemplateRegistry
	Reporter    *activity.Reporter
	Forwarder   *proxy.Forwarder
	Metrics     *metrics.Metrics
	Alerts      AlertSink
}

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	config      config.ServerConfig
	apiConfig   config.APIConfig
	deps        Dependencies
	logger      *logging.Logger
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
}

// Router returns the gin router for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := logging.NewLogger()
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics("nango")
	}

	requestsPerMinute := apiCfg.RateLimit.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1000
	}
	burst := apiCfg.RateLimit.Burst
	if burst <= 0 {
		burst = 100
	}
	rateLimiter := newIPRateLimiter(time.Minute/time.Duration(requestsPerMinute), burst)

	server := &Server{
		router:      gin.New(),
		config:      cfg,
		apiConfig:   apiCfg,
		deps:        deps,
		logger:      logger,
		rateLimiter: rateLimiter,
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(rateLimiter))
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(metrics.Middleware(deps.Metrics, logger))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware attaches a correlation id to every request and logs
// its completion.
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader(logging.CorrelationIDHeader)
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		c.Header(logging.CorrelationIDHeader, correlationID)
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

func (s *Server) setupRoutes() {
	// Metrics and health are unauthenticated.
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	s.router.GET("/health", s.handleHealth)

	authed := s.router.Group("")
	authed.Use(SecretKeyAuth(s.apiConfig.SecretKeys, s.logger))
	{
		authed.POST("/connection", s.handleUpsertConnection)
		authed.POST("/connection/import", s.handleImportConnection)
		authed.GET("/connection", s.handleListConnections)
		authed.GET("/connection/:connectionId", s.handleGetConnection)
		authed.DELETE("/connection/:connectionId", s.handleDeleteConnection)

		authed.POST("/config", s.handleCreateProviderConfig)
		authed.PUT("/config", s.handleUpdateProviderConfig)
		authed.GET("/config", s.handleListProviderConfigs)
		authed.GET("/config/:providerConfigKey", s.handleGetProviderConfig)

		authed.POST("/sync/deploy", s.handleDeploySyncConfig)
		authed.GET("/sync/configs", s.handleListSyncConfigs)
		authed.POST("/sync/trigger", s.handleTriggerSync)
		authed.GET("/sync/jobs/:id", s.handleGetSyncJob)

		authed.GET("/activity", s.handleListActivityLogs)
		authed.GET("/activity/:id/messages", s.handleListActivityMessages)

		authed.Any("/proxy/*path", s.handleProxy)
	}
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if s.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Error("HTTP server shutdown error", "error", err.Error())
				errs <- &errors.ErrServerShutdown{Err: err}
			}
		}()
	}

	if s.deps.Store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.deps.Store.Close(); err != nil {
				errs <- fmt.Errorf("store close: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(errs)
	var errList []error
	for err := range errs {
		errList = append(errList, err)
	}
	if len(errList) > 0 {
		return fmt.Errorf("shutdown errors: %v", errList)
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
