package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/models"
)

// Notifier is told once per model after reconciliation. Delivery is best
// effort: a notifier failure never aborts the run. activityLogID correlates
// the notification with the run's activity trail; zero means no trail.
type Notifier interface {
	Notify(ctx context.Context, conn *models.Connection, syncName, model string, result models.SyncResult, syncType models.SyncType, updatedAt time.Time, activityLogID int64) error
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, *models.Connection, string, string, models.SyncResult, models.SyncType, time.Time, int64) error {
	return nil
}

// LogNotifier writes notifications to the structured log. Used when no
// webhook endpoint is configured.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logging.NewLogger()}
}

func (n *LogNotifier) Notify(ctx context.Context, conn *models.Connection, syncName, model string, result models.SyncResult, syncType models.SyncType, updatedAt time.Time, activityLogID int64) error {
	n.logger.Info("sync model reconciled",
		"connection_id", conn.ConnectionID,
		"sync_name", syncName,
		"model", model,
		"added", result.Added,
		"updated", result.Updated,
		"sync_type", string(syncType),
		"activity_log_id", activityLogID)
	return nil
}

// WebhookPayload is the body POSTed to the configured webhook endpoint
// after each model finishes reconciling.
type WebhookPayload struct {
	ConnectionID      string            `json:"connectionId"`
	ProviderConfigKey string            `json:"providerConfigKey"`
	SyncName          string            `json:"syncName"`
	Model             string            `json:"model"`
	ResponseResults   models.SyncResult `json:"responseResults"`
	SyncType          string            `json:"syncType"`
	QueryTimeStamp    int64             `json:"queryTimeStamp"`
	ActivityLogID     int64             `json:"activityLogId,omitempty"`
}

// WebhookNotifier POSTs per-model results to a tenant endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *logging.Logger
}

// NewWebhookNotifier creates a webhook notifier. The client may be nil.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{
		url:    url,
		client: client,
		logger: logging.NewLogger(),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, conn *models.Connection, syncName, model string, result models.SyncResult, syncType models.SyncType, updatedAt time.Time, activityLogID int64) error {
	payload := WebhookPayload{
		ConnectionID:      conn.ConnectionID,
		ProviderConfigKey: conn.ProviderConfigKey,
		SyncName:          syncName,
		Model:             model,
		ResponseResults:   result,
		SyncType:          string(syncType),
		QueryTimeStamp:    updatedAt.UnixMilli(),
		ActivityLogID:     activityLogID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			"url", n.url, "sync_name", syncName, "model", model, "error", err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook rejected",
			"url", n.url, "sync_name", syncName, "model", model, "status", resp.StatusCode)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
