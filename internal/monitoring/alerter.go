package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate  AlertType = "job_failure_rate"
	AlertSyncFailureRate AlertType = "sync_failure_rate"
)

// Alert is a single threshold breach.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Rates are only judged once enough jobs finished to mean something.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.JobFailRateLimit > 0 && snap.JobsComplete+snap.JobsFailed >= 5 &&
		snap.JobFailRate > a.cfg.JobFailRateLimit {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailureRate,
			Severity: "warning",
			Message: fmt.Sprintf("job failure rate %.0f%% exceeds %.0f%% over last %dh",
				snap.JobFailRate*100, a.cfg.JobFailRateLimit*100, snap.LookbackHours),
			Details: map[string]any{
				"jobs_failed": snap.JobsFailed,
				"jobs_total":  snap.JobsTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.SyncFailRateLimit > 0 && snap.SyncCreated+snap.SyncUpdated+snap.SyncFailed >= 5 &&
		snap.SyncFailRate > a.cfg.SyncFailRateLimit {
		alerts = append(alerts, Alert{
			Type:     AlertSyncFailureRate,
			Severity: "warning",
			Message: fmt.Sprintf("sync failure rate %.0f%% exceeds %.0f%% over last %dh",
				snap.SyncFailRate*100, a.cfg.SyncFailRateLimit*100, snap.LookbackHours),
			Details: map[string]any{
				"sync_failed":  snap.SyncFailed,
				"sync_created": snap.SyncCreated,
				"sync_updated": snap.SyncUpdated,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Send posts alerts to the configured webhook. With no webhook configured
// alerts are only logged.
func (a *Alerter) Send(ctx context.Context, alerts []Alert) error {
	log := zap.L().With(zap.String("component", "monitoring.alerter"))
	for _, alert := range alerts {
		log.Warn("alert", zap.String("type", string(alert.Type)), zap.String("message", alert.Message))
	}
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]any{"alerts": alerts})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alerts")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("monitoring: webhook returned %d", resp.StatusCode)
	}
	return nil
}
