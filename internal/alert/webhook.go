// Package alert pushes operator alerts (breaker trips, blocked withdrawals)
// to an external webhook.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/model"
)

// Severity ranks an alert
type Severity string

// Alert severities
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is the webhook body
type Alert struct {
	Kind            string   `json:"kind"`
	Severity        Severity `json:"severity"`
	Message         string   `json:"message"`
	PauseReason     string   `json:"pause_reason,omitempty"`
	SuspiciousCount uint32   `json:"suspicious_count,omitempty"`
	Time            string   `json:"time"`
}

// Config holds webhook settings
type Config struct {
	URL      string        `yaml:"url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	RetryMax int           `yaml:"retry_max"`
}

// WebhookNotifier posts alerts as JSON
type WebhookNotifier struct {
	config     Config
	httpClient *retryablehttp.Client

	mu       sync.RWMutex
	sent     int
	failed   int
	lastSent time.Time
}

// NewWebhookNotifier creates a notifier; a blank URL disables delivery
func NewWebhookNotifier(cfg Config) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = cfg.Timeout
	c.Logger = nil

	return &WebhookNotifier{config: cfg, httpClient: c}
}

// Enabled reports whether a webhook URL is configured
func (n *WebhookNotifier) Enabled() bool {
	return n.config.URL != ""
}

// Notify delivers one alert
func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	if !n.Enabled() {
		return nil
	}
	if a.Time == "" {
		a.Time = time.Now().UTC().Format(time.RFC3339)
	}

	jsonData, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.config.APIKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.count(false)
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.count(false)
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	n.count(true)
	return nil
}

// OnTrip is a circuit breaker trip callback
func (n *WebhookNotifier) OnTrip(reason model.PauseReason, suspiciousCount uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), n.config.Timeout)
	defer cancel()

	err := n.Notify(ctx, Alert{
		Kind:            "auto_pause",
		Severity:        SeverityCritical,
		Message:         fmt.Sprintf("bank auto-paused after %d suspicious events", suspiciousCount),
		PauseReason:     reason.String(),
		SuspiciousCount: suspiciousCount,
	})
	if err != nil {
		logrus.Errorf("Failed to deliver trip alert: %v", err)
	}
}

// Status returns delivery counters
func (n *WebhookNotifier) Status() map[string]interface{} {
	n.mu.RLock()
	defer n.mu.RUnlock()

	status := map[string]interface{}{
		"enabled": n.Enabled(),
		"sent":    n.sent,
		"failed":  n.failed,
	}
	if !n.lastSent.IsZero() {
		status["last_sent"] = n.lastSent.Format(time.RFC3339)
	}
	return status
}

func (n *WebhookNotifier) count(ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ok {
		n.sent++
		n.lastSent = time.Now()
	} else {
		n.failed++
	}
}
