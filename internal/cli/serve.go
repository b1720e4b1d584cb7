package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakemccloskey/nango/internal/activity"
	"github.com/jakemccloskey/nango/internal/alerts"
	"github.com/jakemccloskey/nango/internal/api"
	"github.com/jakemccloskey/nango/internal/cleanup"
	"github.com/jakemccloskey/nango/internal/config"
	"github.com/jakemccloskey/nango/internal/connection"
	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/metrics"
	"github.com/jakemccloskey/nango/internal/provider"
	"github.com/jakemccloskey/nango/internal/proxy"
	"github.com/jakemccloskey/nango/internal/scheduler"
	"github.com/jakemccloskey/nango/internal/store"
	syncs "github.com/jakemccloskey/nango/internal/sync"
	"github.com/jakemccloskey/nango/internal/telegram"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the Nango server",
	Long: `Start the Nango server in main mode.

This command starts the HTTP server that handles connection management,
credential refresh, the provider proxy and sync orchestration.

Example:
  nango serve --config config.yaml --db ./data/nango.db

The server will start listening on the address configured in the config file.`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", envDuration("NANGO_SHUTDOWN_TIMEOUT", 0), "Shutdown timeout (overrides config)")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Println("Starting Nango server...")
		log.Printf("Config path: %s", globalFlags.Config)
	}

	// Load configuration
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Apply CLI flags to config
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if serveFlags.Timeout > 0 {
		cfg.Server.ShutdownTimeout = serveFlags.Timeout
	}

	logLevel := cfg.Server.LogLevel
	if globalFlags.Verbose {
		logLevel = "debug"
	}
	logging.SetDefaultLevel(logging.ParseLevel(logLevel))

	dbPath := cfg.Database.Path
	if globalFlags.DBPath != "" {
		dbPath = globalFlags.DBPath
	}

	if globalFlags.Verbose {
		log.Printf("Configuration loaded successfully")
		log.Printf("Server host: %s, port: %d", cfg.Server.Host, cfg.Server.HTTPPort)
		log.Printf("Database path: %s", dbPath)
	}

	// Create SQLite store with WAL mode enabled
	sqliteStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to create SQLite store: %w", err)
	}

	// Provider template registry, optionally hot-reloaded
	templates, err := config.NewTemplateRegistry(cfg.Providers.TemplatesPath)
	if err != nil {
		return fmt.Errorf("failed to load provider templates: %w", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if cfg.Providers.WatchTemplates {
		go func() {
			if err := templates.Watch(rootCtx); err != nil {
				log.Printf("Template watcher stopped: %v", err)
			}
		}()
	}

	// OAuth plumbing
	httpClient := provider.NewHTTPClient()
	refresher := provider.NewRefresher(httpClient)
	introspector := provider.NewIntrospector(httpClient)

	reporter := activity.NewReporter(sqliteStore)
	m := metrics.NewMetrics("nango")

	// Sync engine and service
	var notifier syncs.Notifier
	if cfg.Sync.WebhookURL != "" {
		notifier = syncs.NewWebhookNotifier(cfg.Sync.WebhookURL, nil)
	}
	runner := syncs.NewExecScriptRunner(cfg.Sync.ScriptTimeout)
	engine := syncs.NewEngine(sqliteStore, runner, notifier)
	syncSvc := syncs.NewService(sqliteStore, engine, reporter)

	// Connection manager, with initial syncs on import
	connMgr := connection.NewManager(sqliteStore, connection.NewRefreshRegistry(), refresher,
		connection.WithIntrospector(introspector),
		connection.WithSyncScheduler(syncSvc),
	)

	// Telegram alerting
	var bot telegram.Notifier = telegram.Disabled{}
	if cfg.Telegram.Enabled {
		b, err := telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Printf("Telegram setup warning: %v", err)
		} else {
			bot = b
		}
	}

	var alertSvc *alerts.Service
	if cfg.Alerts.Enabled {
		alertSvc = alerts.NewService(alerts.Config{
			Enabled:            cfg.Alerts.Enabled,
			DedupWindow:        cfg.Alerts.DedupWindow,
			RateLimitPerMinute: cfg.Alerts.RateLimitPerMinute,
		}, bot)
		alertSvc.Start()
	}

	// Create API server
	deps := api.Dependencies{
		Store:       sqliteStore,
		Connections: connMgr,
		Syncs:       syncSvc,
		Templates:   templates,
		Reporter:    reporter,
		Forwarder:   proxy.NewForwarder(httpClient),
		Metrics:     m,
	}
	if alertSvc != nil {
		deps.Alerts = alertSvc
	}
	server := api.NewServer(cfg.Server, cfg.API, deps)

	// Interval scheduler for recurring syncs
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(sqliteStore, syncSvc, cfg.Scheduler.Interval)
		sched.Start()
	}

	// Activity log retention
	cleaner := cleanup.NewManager(cleanup.Config{
		Enabled:       cfg.Cleanup.Enabled,
		Interval:      cfg.Cleanup.Interval,
		RetentionDays: cfg.Cleanup.RetentionDays,
	}, sqliteStore)
	if err := cleaner.Start(rootCtx); err != nil {
		log.Printf("Cleanup start warning: %v", err)
	}

	setupGracefulShutdown(server, sched, cleaner, alertSvc, rootCancel, cfg.Server.ShutdownTimeout)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	log.Printf("Starting Nango HTTP server on %s", addr)
	log.Printf("Database: %s (WAL mode enabled)", dbPath)

	if err := server.Run(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// setupGracefulShutdown handles graceful shutdown of all components
func setupGracefulShutdown(server *api.Server, sched *scheduler.Scheduler, cleaner *cleanup.Manager, alertSvc *alerts.Service, cancel context.CancelFunc, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)

		ctx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
		defer cancelShutdown()

		if sched != nil {
			sched.Stop()
		}
		if cleaner != nil {
			cleaner.Stop()
		}
		cancel()
		if alertSvc != nil {
			if err := alertSvc.Stop(); err != nil {
				log.Printf("Error stopping alerts service: %v", err)
			}
		}

		// Shutdown server (drains requests, closes the store)
		log.Println("Shutting down API server...")
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Error during server shutdown: %v", err)
		}

		log.Println("Graceful shutdown completed")
		os.Exit(0)
	}()
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return fallback
}
