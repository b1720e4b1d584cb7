package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

// ScriptInput is the handle passed to a tenant script: the connection
// identity, the incremental cursor and the models the script is expected
// to return.
type ScriptInput struct {
	ConnectionID      string     `json:"connection_id"`
	ProviderConfigKey string     `json:"provider_config_key"`
	AccountID         int64      `json:"account_id"`
	SyncName          string     `json:"sync_name"`
	SyncType          string     `json:"sync_type"`
	LastSyncDate      *time.Time `json:"last_sync_date,omitempty"`
	Models            []string   `json:"models"`
}

// RawResults is a tenant script's return value: model name to an ordered
// sequence of records. A nil map means the script produced no results at
// all, which is a hard failure distinct from an empty sequence.
type RawResults map[string][]map[string]interface{}

// ScriptRunner executes a tenant integration script.
type ScriptRunner interface {
	Run(ctx context.Context, cfg *models.SyncConfig, input ScriptInput) (RawResults, error)
}

// ExecScriptRunner runs the sync config's script command as a subprocess:
// input on stdin as JSON, results expected on stdout as JSON. The timeout
// bounds the whole execution; zero disables it.
type ExecScriptRunner struct {
	Timeout time.Duration
}

// NewExecScriptRunner creates a subprocess runner with the given timeout.
func NewExecScriptRunner(timeout time.Duration) *ExecScriptRunner {
	return &ExecScriptRunner{Timeout: timeout}
}

func (r *ExecScriptRunner) Run(ctx context.Context, cfg *models.SyncConfig, input ScriptInput) (RawResults, error) {
	if strings.TrimSpace(cfg.ScriptCommand) == "" {
		return nil, &errors.ErrScriptRun{SyncName: cfg.SyncName, Err: errNoScriptCommand}
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, &errors.ErrScriptRun{SyncName: cfg.SyncName, Err: err}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cfg.ScriptCommand)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		runErr := err
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			runErr = &scriptError{exitErr: err, stderr: msg}
		}
		return nil, &errors.ErrScriptRun{SyncName: cfg.SyncName, Err: runErr}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" || out == "null" {
		// The script ran but produced nothing; the engine treats this as
		// a hard failure, not an empty result set.
		return nil, nil
	}

	var results RawResults
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		return nil, &errors.ErrScriptRun{SyncName: cfg.SyncName, Err: err}
	}
	return results, nil
}

var errNoScriptCommand = &scriptError{stderr: "sync config has no script command"}

// scriptError carries a subprocess failure with its stderr tail.
type scriptError struct {
	exitErr error
	stderr  string
}

func (e *scriptError) Error() string {
	if e.exitErr == nil {
		return e.stderr
	}
	return e.exitErr.Error() + ": " + e.stderr
}

func (e *scriptError) Unwrap() error { return e.exitErr }
