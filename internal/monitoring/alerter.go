package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/datemover/internal/config"
	"github.com/sells-group/datemover/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConnectionDown AlertType = "connection_down"
	AlertCircuitOpen    AlertType = "circuit_open"
	AlertAuthFailure    AlertType = "auth_failure"
	AlertRecovered      AlertType = "connection_recovered"
)

const defaultFailureThreshold = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached. An alert fires
// once when its condition starts; a recovery alert follows when every
// condition has cleared.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client

	mu     sync.Mutex
	active map[AlertType]bool
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		active: map[AlertType]bool{},
	}
}

// Evaluate checks the snapshot against thresholds and returns alerts whose
// condition is new since the previous evaluation.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()
	threshold := a.cfg.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}

	firing := map[AlertType]Alert{}

	if snap.ConsecutiveFailures >= threshold {
		firing[AlertConnectionDown] = Alert{
			Type:     AlertConnectionDown,
			Severity: "high",
			Message: fmt.Sprintf("Tracker unreachable: %d consecutive failed requests (threshold %d)",
				snap.ConsecutiveFailures, threshold),
			Details: map[string]any{
				"consecutive_failures": snap.ConsecutiveFailures,
				"last_error":           snap.LastError,
				"last_error_kind":      snap.LastErrorKind,
			},
			Timestamp: now,
		}
	}

	if snap.CircuitState == resilience.CircuitOpen {
		firing[AlertCircuitOpen] = Alert{
			Type:      AlertCircuitOpen,
			Severity:  "high",
			Message:   "Tracker circuit breaker is open; requests are being rejected",
			Details:   map[string]any{"total_retries": snap.TotalRetries},
			Timestamp: now,
		}
	}

	if snap.LastErrorKind == resilience.KindAuthentication && !snap.Connected {
		firing[AlertAuthFailure] = Alert{
			Type:      AlertAuthFailure,
			Severity:  "critical",
			Message:   "Tracker rejected the access token",
			Details:   map[string]any{"last_error": snap.LastError},
			Timestamp: now,
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var alerts []Alert
	for _, t := range []AlertType{AlertConnectionDown, AlertCircuitOpen, AlertAuthFailure} {
		if alert, ok := firing[t]; ok && !a.active[t] {
			alerts = append(alerts, alert)
		}
	}

	if len(firing) == 0 && len(a.active) > 0 && snap.Connected {
		alerts = append(alerts, Alert{
			Type:      AlertRecovered,
			Severity:  "info",
			Message:   "Tracker connection recovered",
			Timestamp: now,
		})
	}

	if len(firing) > 0 || snap.Connected {
		a.active = make(map[AlertType]bool, len(firing))
		for t := range firing {
			a.active[t] = true
		}
	}
	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
