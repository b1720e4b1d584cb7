// Package alerts notifies operators about refresh failures and stopped
// sync runs. Alerts are deduplicated per connection within a window and
// rate limited so a flapping provider cannot flood the chat.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/telegram"
)

// Config represents alert service configuration
type Config struct {
	Enabled            bool
	DedupWindow        time.Duration
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration
}

// Service manages alerts and notifications
type Service struct {
	config    Config
	bot       telegram.Notifier
	dedup     *DedupStore
	throttler *Throttler
	logger    *logging.Logger

	alertChan chan Alert

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new alert service
func NewService(config Config, bot telegram.Notifier) *Service {
	if config.DedupWindow == 0 {
		config.DedupWindow = 30 * time.Minute
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 25 * time.Second
	}
	if bot == nil {
		bot = telegram.Disabled{}
	}

	return &Service{
		config:    config,
		bot:       bot,
		dedup:     NewDedupStore(config.DedupWindow),
		throttler: NewThrottler(config.RateLimitPerMinute, config.RateLimitPerMinute),
		logger:    logging.NewLogger(),
		alertChan: make(chan Alert, 100),
	}
}

// Start starts the alert service
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(2)
	go s.processAlerts()
	go s.cleanupLoop()
}

// Stop gracefully stops the alert service
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		return fmt.Errorf("timeout waiting for alert service to stop")
	}
}

// IsRunning returns whether the service is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NotifyRefreshFailure raises an alert for a failed token refresh.
func (s *Service) NotifyRefreshFailure(accountID int64, connectionID, providerConfigKey, provider, reason string) {
	s.processAlert(Alert{
		ID:                generateAlertID(),
		AccountID:         accountID,
		Type:              AlertTypeRefreshFailure,
		Severity:          SeverityCritical,
		ConnectionID:      connectionID,
		ProviderConfigKey: providerConfigKey,
		Message: fmt.Sprintf("Token refresh failed for connection %s (%s, provider %s): %s",
			connectionID, providerConfigKey, provider, reason),
		Timestamp: time.Now(),
	})
}

// NotifySyncStopped raises an alert for a sync run that ended stopped.
func (s *Service) NotifySyncStopped(accountID int64, connectionID, syncName string, jobID int64) {
	s.processAlert(Alert{
		ID:                generateAlertID(),
		AccountID:         accountID,
		Type:              AlertTypeSyncStopped,
		Severity:          SeverityWarning,
		ConnectionID:      connectionID,
		SyncName:          syncName,
		Message: fmt.Sprintf("Sync %s stopped for connection %s (job %d). Check the activity log for details.",
			syncName, connectionID, jobID),
		Timestamp: time.Now(),
	})
}

// processAlert applies dedup and rate limiting, then queues the alert.
// Drops are silent: alerting never disturbs the operation it describes.
func (s *Service) processAlert(alert Alert) {
	if !s.config.Enabled || !s.IsRunning() {
		return
	}

	key := alert.AlertKey()
	if s.dedup.IsDuplicate(key) {
		return
	}
	if !s.throttler.Allow() {
		s.logger.Warn("alert dropped by rate limit", "alert_type", string(alert.Type))
		return
	}

	select {
	case s.alertChan <- alert:
		s.dedup.Record(key)
	default:
		s.logger.Warn("alert channel full, dropping alert", "alert_type", string(alert.Type))
	}
}

func (s *Service) processAlerts() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case alert := <-s.alertChan:
			s.sendAlert(alert)
		}
	}
}

func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dedup.Cleanup()
		}
	}
}

func (s *Service) sendAlert(alert Alert) {
	if !s.bot.IsEnabled() {
		return
	}
	if err := s.bot.SendMessage(FormatAlert(alert)); err != nil {
		s.logger.Error("failed to deliver alert", "alert_type", string(alert.Type), "error", err.Error())
	}
}

// FormatAlert renders an alert as a chat message.
func FormatAlert(alert Alert) string {
	prefix := "⚠️"
	if alert.Severity == SeverityCritical {
		prefix = "🚨"
	}
	return fmt.Sprintf("%s [%s] %s", prefix, alert.Type, alert.Message)
}

// GetDedupSize returns the current dedup store size
func (s *Service) GetDedupSize() int {
	return s.dedup.Size()
}

func generateAlertID() string {
	return fmt.Sprintf("alert-%d", time.Now().UnixNano())
}
