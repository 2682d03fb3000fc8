package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents an alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// SignalPayload is the wire shape for a high-confidence signal alert
type SignalPayload struct {
	Ticker     string
	SignalType string
	Confidence float64 // [0, 1]
	EntryPrice float64
	Target     float64
	StopLoss   float64
	Timestamp  time.Time
}

// SummaryLine is one row in the daily digest
type SummaryLine struct {
	Ticker     string
	SignalType string
	Confidence int // bucketed 1..5
	Status     string
}

// LearningPayload is the wire shape for a learning loop notification
type LearningPayload struct {
	EventType  string
	AgentName  string
	OldValue   float64
	NewValue   float64
	Reasoning  string
	Confidence float64
}

// Manager fans alerts out to every configured channel. A failing channel is
// logged and does not block the others.
type Manager struct {
	alerters []Alerter
}

// NewManager creates a new alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
	}
}

// Send sends an alert to all configured alerters
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			lastErr = err
		}
	}

	return lastErr
}

// nycTime formats a timestamp in Eastern time for alert display
func nycTime(t time.Time) string {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return t.Format("2006-01-02 15:04:05 MST")
	}
	return t.In(loc).Format("2006-01-02 15:04:05 EST")
}

// SendSignalAlert pushes a high-confidence trading signal
func (m *Manager) SendSignalAlert(ctx context.Context, p SignalPayload) error {
	return m.Send(ctx, Alert{
		Title: fmt.Sprintf("%s signal: %s", p.SignalType, p.Ticker),
		Message: fmt.Sprintf("%s %s at $%.2f (target $%.2f, stop $%.2f, confidence %.0f%%)",
			p.SignalType, p.Ticker, p.EntryPrice, p.Target, p.StopLoss, p.Confidence*100),
		Severity:  SeverityInfo,
		Timestamp: p.Timestamp,
		Metadata: map[string]interface{}{
			"ticker":      p.Ticker,
			"signal_type": p.SignalType,
			"confidence":  p.Confidence,
			"entry":       p.EntryPrice,
			"target":      p.Target,
			"stop_loss":   p.StopLoss,
			"time_est":    nycTime(p.Timestamp),
		},
	})
}

// SendDailySummary pushes the morning digest of recent signals
func (m *Manager) SendDailySummary(ctx context.Context, lines []SummaryLine) error {
	if len(lines) == 0 {
		return m.Send(ctx, Alert{
			Title:    "Daily summary",
			Message:  "No active signals.",
			Severity: SeverityInfo,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d active signals:\n", len(lines))
	for _, l := range lines {
		fmt.Fprintf(&b, "%s %s (confidence %d/5, %s)\n", l.SignalType, l.Ticker, l.Confidence, l.Status)
	}

	return m.Send(ctx, Alert{
		Title:    "Daily summary",
		Message:  b.String(),
		Severity: SeverityInfo,
	})
}

// SendLearningEvent pushes a learning loop notification. Guardrail alerts
// escalate to WARNING so reviewers notice blocked updates.
func (m *Manager) SendLearningEvent(ctx context.Context, p LearningPayload) error {
	severity := SeverityInfo
	if p.EventType == "ALERT" {
		severity = SeverityWarning
	}

	return m.Send(ctx, Alert{
		Title:    "Learning: " + p.EventType,
		Message:  p.Reasoning,
		Severity: severity,
		Metadata: map[string]interface{}{
			"event_type": p.EventType,
			"agent":      p.AgentName,
			"old_value":  p.OldValue,
			"new_value":  p.NewValue,
			"confidence": p.Confidence,
		},
	})
}

// LogAlerter logs alerts using zerolog
type LogAlerter struct{}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send sends an alert by logging it
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := log.Log()

	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	case SeverityInfo:
		event = log.Info()
	}

	if alert.Metadata != nil {
		for key, value := range alert.Metadata {
			event = event.Interface(key, value)
		}
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg("ALERT: " + alert.Message)

	return nil
}
