// Package activity records per-operation diagnostic trails. Every token
// refresh, sync run and proxy call opens a log, appends messages as it
// progresses and closes with a verdict. Reporting never fails the
// operation it describes: store errors are logged and swallowed.
package activity

import (
	"fmt"
	"time"

	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/store"
)

// Reporter opens activity logs against the store.
type Reporter struct {
	store  store.Store
	logger *logging.Logger
}

// NewReporter creates a reporter backed by the given store.
func NewReporter(s store.Store) *Reporter {
	return &Reporter{store: s, logger: logging.NewLogger()}
}

// Start opens an activity log and returns a trail for appending messages.
// On store failure the returned trail is a no-op so callers never need to
// branch on reporting errors.
func (r *Reporter) Start(log *models.ActivityLog) *Trail {
	now := time.Now().UnixMilli()
	if log.Timestamp == 0 {
		log.Timestamp = now
	}
	if log.Start == 0 {
		log.Start = now
	}

	id, err := r.store.CreateActivityLog(log)
	if err != nil {
		r.logger.Error("failed to open activity log", "action", string(log.Action), "error", err.Error())
		return &Trail{reporter: r}
	}
	return &Trail{reporter: r, id: id}
}

// Trail is one open activity log. A zero-id trail drops everything.
type Trail struct {
	reporter *Reporter
	id       int64
}

// ID returns the underlying activity log id, 0 when reporting is disabled.
func (t *Trail) ID() int64 { return t.id }

// Info appends an info-level message.
func (t *Trail) Info(format string, args ...interface{}) {
	t.append("info", format, args...)
}

// Error appends an error-level message.
func (t *Trail) Error(format string, args ...interface{}) {
	t.append("error", format, args...)
}

func (t *Trail) append(level, format string, args ...interface{}) {
	if t.id == 0 {
		return
	}
	_, err := t.reporter.store.CreateActivityLogMessage(&models.ActivityLogMessage{
		ActivityLogID: t.id,
		Level:         level,
		Content:       fmt.Sprintf(format, args...),
		Timestamp:     time.Now().UnixMilli(),
	})
	if err != nil {
		t.reporter.logger.Error("failed to append activity message", "activity_log_id", t.id, "error", err.Error())
	}
}

// Close stamps the end time and final verdict.
func (t *Trail) Close(success bool) {
	if t.id == 0 {
		return
	}
	if err := t.reporter.store.SetActivityLogSuccess(t.id, success); err != nil {
		t.reporter.logger.Error("failed to set activity verdict", "activity_log_id", t.id, "error", err.Error())
	}
	if err := t.reporter.store.EndActivityLog(t.id, time.Now().UnixMilli()); err != nil {
		t.reporter.logger.Error("failed to close activity log", "activity_log_id", t.id, "error", err.Error())
	}
}
