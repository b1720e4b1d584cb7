// Package sync drives one execution of a named sync: it resolves the
// tenant's sync definition, runs the integration script against a live
// connection and reconciles the returned records per model. Durable runs
// never surface errors to the caller; the job status and activity log
// carry the verdict. Dry runs return the raw script output instead.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jakemccloskey/nango/internal/activity"
	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/store"
)

// Engine executes sync runs.
type Engine struct {
	store    store.Store
	resolver *Resolver
	runner   ScriptRunner
	notifier Notifier
	logger   *logging.Logger
}

// NewEngine creates a sync engine. A nil notifier falls back to the log
// notifier.
func NewEngine(s store.Store, runner ScriptRunner, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	return &Engine{
		store:    s,
		resolver: NewResolver(s),
		runner:   runner,
		notifier: notifier,
		logger:   logging.NewLogger(),
	}
}

// Run is one sync execution request. Durable runs carry a job id and
// usually an activity trail; dry runs carry neither and may point at a
// local config directory plus an explicit cursor.
type Run struct {
	Connection   *models.Connection
	SyncName     string
	SyncType     models.SyncType
	SyncID       string
	SyncJobID    int64
	Trail        *activity.Trail
	DryRun       bool
	LocalDir     string
	LastSyncDate *time.Time
}

// RunResult is the outcome of a run. Raw is populated for dry runs only.
type RunResult struct {
	Success bool
	Raw     RawResults
}

// Run executes the state machine. For durable runs the returned error is
// always nil: failures are recorded on the job and activity log, and the
// result's Success flag is the coarse verdict. Dry-run failures return an
// error since no durable job exists to mark.
func (e *Engine) Run(ctx context.Context, run *Run) (*RunResult, error) {
	// Loading.
	cfg, err := e.loadConfig(run)
	if err != nil {
		return e.fail(run, err.Error())
	}
	if cfg == nil {
		return e.fail(run, fmt.Sprintf("no sync configuration found for %s", run.SyncName))
	}

	// Resolving.
	if len(cfg.Models) == 0 {
		return e.fail(run, fmt.Sprintf("sync configuration for %s declares no models", run.SyncName))
	}
	if !run.DryRun && cfg.ID > 0 {
		if err := e.store.SetSyncJobConfigID(run.SyncJobID, cfg.ID); err != nil {
			return e.fail(run, err.Error())
		}
	}

	// Executing.
	lastSyncDate := run.LastSyncDate
	if !run.DryRun {
		lastSyncDate, err = e.store.GetLastSyncDate(run.Connection.ID, run.SyncName)
		if err != nil {
			return e.fail(run, err.Error())
		}
	}

	results, err := e.runner.Run(ctx, cfg, ScriptInput{
		ConnectionID:      run.Connection.ConnectionID,
		ProviderConfigKey: run.Connection.ProviderConfigKey,
		AccountID:         run.Connection.AccountID,
		SyncName:          run.SyncName,
		SyncType:          string(run.SyncType),
		LastSyncDate:      lastSyncDate,
		Models:            cfg.Models,
	})
	if err != nil {
		msg := fmt.Sprintf("The %s sync %s%s failed to execute: %s",
			run.SyncType, run.SyncName, versionSuffix(cfg), serializeError(err))
		return e.fail(run, msg)
	}
	if results == nil {
		return e.fail(run, fmt.Sprintf("there was a problem retrieving the results from the script for sync %s", run.SyncName))
	}

	// Dry runs stop here: raw output back to the caller, nothing durable
	// was touched.
	if run.DryRun {
		return &RunResult{Success: true, Raw: results}, nil
	}

	// Reconciling: strictly sequential in declaration order, abort on the
	// first failure so later models are never partially applied.
	terminal := false
	for i, model := range cfg.Models {
		isLast := i == len(cfg.Models)-1

		raw, ok := results[model]
		if !ok {
			// Absent model: no report, but it still counts toward the
			// last-model bookkeeping.
			continue
		}

		records, err := formatRecords(raw, model, run.Connection.ID, run.SyncID, run.SyncJobID)
		if err != nil {
			return e.fail(run, fmt.Sprintf("failed to format records for model %s: %s", model, err.Error()))
		}

		summary, err := e.store.UpsertRecords(records, model, run.Connection.ID)
		if err != nil {
			return e.fail(run, fmt.Sprintf("reconciliation failed for model %s: %s", model, err.Error()))
		}

		result := models.SyncResult{
			Added:   int64(len(summary.AddedKeys)),
			Updated: int64(len(summary.UpdatedKeys)),
		}
		job, err := e.store.UpdateSyncJobResult(run.SyncJobID, model, result)
		if err != nil {
			return e.fail(run, fmt.Sprintf("failed to record results for model %s: %s", model, err.Error()))
		}

		var trailID int64
		if run.Trail != nil {
			trailID = run.Trail.ID()
		}
		if err := e.notifier.Notify(ctx, run.Connection, run.SyncName, model, result, run.SyncType, time.Now(), trailID); err != nil {
			e.logger.Warn("webhook notification failed",
				"sync_name", run.SyncName, "model", model, "error", err.Error())
		}

		// Counts are read back through the job's result column so the
		// legacy flat layout keeps reporting correctly.
		reported := models.SyncResult{}
		if job != nil {
			reported = job.Results.ModelResult(model)
		}

		if isLast {
			e.finalize(run, model, reported)
			terminal = true
		} else if run.Trail != nil {
			run.Trail.Info("model %s reconciled: %d added, %d updated", model, reported.Added, reported.Updated)
		}
	}

	if !terminal {
		// The last declared model was absent from the results; the run
		// still completes.
		e.finalize(run, "", models.SyncResult{})
	}

	return &RunResult{Success: true}, nil
}

func (e *Engine) loadConfig(run *Run) (*models.SyncConfig, error) {
	if run.DryRun && run.LocalDir != "" {
		return ResolveLocal(run.LocalDir, run.Connection.ProviderConfigKey, run.SyncName)
	}
	return e.resolver.Resolve(run.Connection.AccountID, run.Connection.ProviderConfigKey, run.SyncName)
}

// fail records a terminal failure. Durable runs transition the job to
// STOPPED and close the trail; dry runs surface the message as an error.
func (e *Engine) fail(run *Run, msg string) (*RunResult, error) {
	if run.DryRun {
		return nil, fmt.Errorf("%s", msg)
	}

	if err := e.store.UpdateSyncJobStatus(run.SyncJobID, models.SyncStatusStopped); err != nil {
		e.logger.Error("failed to mark sync job stopped",
			"sync_job_id", run.SyncJobID, "error", err.Error())
	}
	if run.Trail != nil {
		run.Trail.Error("%s", msg)
		run.Trail.Close(false)
	}
	e.logger.Error("sync run stopped",
		"sync_name", run.SyncName, "connection_id", run.Connection.ConnectionID, "message", msg)

	return &RunResult{Success: false}, nil
}

// finalize transitions the job to SUCCESS and closes the trail exactly
// once, with the last model's counts as the terminating entry.
func (e *Engine) finalize(run *Run, lastModel string, result models.SyncResult) {
	if err := e.store.UpdateSyncJobStatus(run.SyncJobID, models.SyncStatusSuccess); err != nil {
		e.logger.Error("failed to mark sync job succeeded",
			"sync_job_id", run.SyncJobID, "error", err.Error())
	}
	if run.Trail != nil {
		if lastModel != "" {
			run.Trail.Info("sync completed, model %s reconciled: %d added, %d updated",
				lastModel, result.Added, result.Updated)
		} else {
			run.Trail.Info("sync completed")
		}
		run.Trail.Close(true)
	}
}

func versionSuffix(cfg *models.SyncConfig) string {
	if cfg.Version == "" {
		return ""
	}
	return " v" + cfg.Version
}

// serializeError snapshots whatever structure the failure carries so the
// activity log keeps a diagnosable record.
func serializeError(err error) string {
	snapshot := map[string]interface{}{
		"message": err.Error(),
		"type":    fmt.Sprintf("%T", err),
	}
	b, marshalErr := json.Marshal(snapshot)
	if marshalErr != nil {
		return err.Error()
	}
	return string(b)
}
