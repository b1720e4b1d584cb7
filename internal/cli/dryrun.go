package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakemccloskey/nango/internal/activity"
	"github.com/jakemccloskey/nango/internal/config"
	"github.com/jakemccloskey/nango/internal/store"
	syncs "github.com/jakemccloskey/nango/internal/sync"
)

// dryrunCmd represents the dryrun command
var dryrunCmd = &cobra.Command{
	Use:   "dryrun <sync-name> <connection-id>",
	Short: "Run a sync locally without writing records",
	Long: `Run a sync against a local nango.yaml and print the raw script
output without persisting records or creating a job.

The connection is read from the database; the sync definition comes
from the nango.yaml in the working directory (or --dir).

Example:
  nango dryrun issues conn-1 --provider-config-key github-prod`,
	Args: cobra.ExactArgs(2),
	RunE: runDryRun,
}

var dryrunFlags struct {
	ProviderConfigKey string
	AccountID         int64
	Dir               string
	LastSyncDate      string
	Timeout           time.Duration
}

func init() {
	dryrunCmd.Flags().StringVar(&dryrunFlags.ProviderConfigKey, "provider-config-key", "", "Provider config key of the connection (required)")
	dryrunCmd.Flags().Int64Var(&dryrunFlags.AccountID, "account", 0, "Account id owning the connection")
	dryrunCmd.Flags().StringVar(&dryrunFlags.Dir, "dir", ".", "Directory containing nango.yaml")
	dryrunCmd.Flags().StringVar(&dryrunFlags.LastSyncDate, "last-sync-date", "", "Simulated last sync date (RFC3339)")
	dryrunCmd.Flags().DurationVar(&dryrunFlags.Timeout, "timeout", 15*time.Minute, "Script execution timeout")
	_ = dryrunCmd.MarkFlagRequired("provider-config-key")

	RootCmd.AddCommand(dryrunCmd)
}

func runDryRun(cmd *cobra.Command, args []string) error {
	syncName, connectionID := args[0], args[1]

	dbPath := globalFlags.DBPath
	if dbPath == "" {
		if cfg, err := config.NewLoader(globalFlags.Config).Load(); err == nil {
			dbPath = cfg.Database.Path
		} else {
			dbPath = "./data/nango.db"
		}
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	conn, err := s.GetConnection(connectionID, dryrunFlags.ProviderConfigKey, dryrunFlags.AccountID)
	if err != nil {
		return fmt.Errorf("failed to read connection: %w", err)
	}
	if conn == nil {
		return fmt.Errorf("unknown connection %q for provider config %q", connectionID, dryrunFlags.ProviderConfigKey)
	}

	var lastSyncDate *time.Time
	if dryrunFlags.LastSyncDate != "" {
		ts, err := time.Parse(time.RFC3339, dryrunFlags.LastSyncDate)
		if err != nil {
			return fmt.Errorf("invalid --last-sync-date: %w", err)
		}
		lastSyncDate = &ts
	}

	runner := syncs.NewExecScriptRunner(dryrunFlags.Timeout)
	engine := syncs.NewEngine(s, runner, syncs.NoopNotifier{})
	service := syncs.NewService(s, engine, activity.NewReporter(s))

	results, err := service.DryRun(context.Background(), conn, syncName, dryrunFlags.Dir, lastSyncDate)
	if err != nil {
		return fmt.Errorf("dry run failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
