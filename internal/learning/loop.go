package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zurychhh/alpha-machine-sub000/internal/alerts"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/events"
)

// Defaults for the apply-policy gates
const (
	defaultMinConfidenceForAuto = 0.80
	defaultFreezeDays           = 3
	weeklyChangeCap             = 0.20
	sumDriftCap                 = 0.10
)

// WeightRepo is the weight history the loop reads and appends to
type WeightRepo interface {
	CurrentWeights(ctx context.Context) (map[string]float64, error)
	SaveWeights(ctx context.Context, date time.Time, weights []db.AgentWeight) error
	History(ctx context.Context, agentName string, days int) ([]db.AgentWeight, error)
	WeightAsOf(ctx context.Context, agentName string, date time.Time) (float64, error)
}

// EventLog is the append-only learning audit trail
type EventLog interface {
	Append(ctx context.Context, event db.LearningEvent) error
	CountRegimeShifts(ctx context.Context, sinceDays int) (int, error)
	ActiveFreezeUntil(ctx context.Context, agentName string, freezeDays int) (time.Time, error)
}

// ConfigStore supplies the runtime gate variables
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetBool(ctx context.Context, key string, def bool) bool
	GetFloat(ctx context.Context, key string, def float64) float64
	GetInt(ctx context.Context, key string, def int) int
}

// RegimeSource classifies the market environment
type RegimeSource interface {
	Detect(ctx context.Context) (RegimeReading, error)
}

// Notifier pushes learning notifications to alert channels
type Notifier interface {
	SendLearningEvent(ctx context.Context, p alerts.LearningPayload) error
}

// Publisher emits learning events to the message bus
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// Loop proposes, vets, and applies agent weight updates
type Loop struct {
	perf      PerformanceSource
	weights   WeightRepo
	events    EventLog
	config    ConfigStore
	regime    RegimeSource
	notifier  Notifier
	publisher Publisher
	logger    zerolog.Logger
}

// NewLoop creates a learning loop. regime, notifier, and publisher may be
// nil; the corresponding steps are skipped.
func NewLoop(perf PerformanceSource, weights WeightRepo, eventLog EventLog, config ConfigStore, regime RegimeSource, notifier Notifier, publisher Publisher, logger zerolog.Logger) *Loop {
	return &Loop{
		perf:      perf,
		weights:   weights,
		events:    eventLog,
		config:    config,
		regime:    regime,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger.With().Str("component", "learning_loop").Logger(),
	}
}

// RunReport summarizes one learning run
type RunReport struct {
	Regime        RegimeReading
	Findings      []Finding
	Confidence    float64
	Proposed      map[string]float64
	Applied       bool
	Frozen        bool
	BlockedReason string
}

// Run executes one full learning pass
func (l *Loop) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{}

	current, err := l.weights.CurrentWeights(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current weights: %w", err)
	}
	if len(current) == 0 {
		l.logger.Warn().Msg("No agent weights recorded yet, skipping learning run")
		return report, nil
	}

	reading, previous, err := l.trackRegime(ctx)
	if err != nil {
		return nil, err
	}
	report.Regime = reading

	if frozen, reason := l.learningFrozen(ctx, reading); frozen {
		report.Frozen = true
		report.BlockedReason = reason
		l.logger.Warn().Str("reason", reason).Msg("Learning frozen this run")
		l.audit(ctx, db.LearningEvent{EventType: db.EventAlert, Reasoning: "Learning frozen: " + reason})
		return report, nil
	}

	records, err := collectPerformance(ctx, l.perf, current)
	if err != nil {
		return nil, err
	}

	tfWeights := l.timeframeWeights(ctx)
	proposed := make(map[string]float64, len(records))
	recordByName := make(map[string]AgentRecord, len(records))
	for _, rec := range records {
		proposed[rec.Name] = proposeWeight(rec, tfWeights, dailyChangeCap)
		recordByName[rec.Name] = rec
	}

	frozen := make(map[string]bool)
	report.Findings = l.detectAndCorrect(ctx, records, recordByName, proposed, frozen, reading.Regime, previous)
	report.Confidence = overallConfidence(report.Findings)

	// Agents under an active freeze keep their weight regardless.
	freezeDays := l.config.GetInt(ctx, db.KeyFreezeDurationDays, defaultFreezeDays)
	for name := range proposed {
		until, _ := l.events.ActiveFreezeUntil(ctx, name, freezeDays)
		if !until.IsZero() && time.Now().Before(until) {
			proposed[name] = current[name]
			frozen[name] = true
		}
	}

	proposed = normalizeWeights(proposed, frozen)
	report.Proposed = proposed

	if reason := l.guardrailViolation(ctx, current, proposed); reason != "" {
		report.BlockedReason = reason
		l.audit(ctx, db.LearningEvent{EventType: db.EventAlert, Reasoning: "Guardrail violation: " + reason})
		l.notify(ctx, alerts.LearningPayload{EventType: "ALERT", Reasoning: "Guardrail violation blocked weight update: " + reason})
		l.logger.Warn().Str("reason", reason).Msg("Weight update blocked by guardrails")
		return report, nil
	}

	if reason := l.applyGateBlocks(ctx, report.Confidence); reason != "" {
		report.BlockedReason = reason
		l.audit(ctx, db.LearningEvent{
			EventType:       db.EventAlert,
			Reasoning:       "Weight update pending review: " + reason,
			ConfidenceLevel: &report.Confidence,
		})
		l.notify(ctx, alerts.LearningPayload{EventType: "ALERT", Reasoning: "Weight update pending review: " + reason, Confidence: report.Confidence})
		return report, nil
	}

	if err := l.apply(ctx, current, proposed, recordByName, report); err != nil {
		return nil, err
	}
	report.Applied = true
	return report, nil
}

// trackRegime detects the current regime, records transitions, and returns
// the new reading plus the previously stored regime.
func (l *Loop) trackRegime(ctx context.Context) (RegimeReading, MarketRegime, error) {
	if l.regime == nil {
		return RegimeReading{Regime: RegimeNormal}, "", nil
	}

	reading, err := l.regime.Detect(ctx)
	if err != nil {
		return RegimeReading{}, "", fmt.Errorf("regime detection failed: %w", err)
	}

	previous := MarketRegime("")
	if raw, err := l.config.Get(ctx, db.KeyCurrentRegime); err == nil {
		previous = MarketRegime(raw)
	} else if !errors.Is(err, db.ErrNotFound) {
		return RegimeReading{}, "", err
	}

	if previous != reading.Regime {
		if err := l.config.Set(ctx, db.KeyCurrentRegime, string(reading.Regime)); err != nil {
			return RegimeReading{}, "", err
		}
		if previous != "" {
			l.audit(ctx, db.LearningEvent{
				EventType: db.EventRegimeShift,
				Reasoning: fmt.Sprintf("Regime shifted %s -> %s: %s", previous, reading.Regime, reading.Reasoning),
			})
			l.publish(ctx, events.SubjectRegimeShift, map[string]string{
				"from": string(previous), "to": string(reading.Regime),
			})
		}
	}
	return reading, previous, nil
}

// learningFrozen applies the global freeze rules: too many recent regime
// shifts, or an extreme-volatility regime.
func (l *Loop) learningFrozen(ctx context.Context, reading RegimeReading) (bool, string) {
	shifts, err := l.events.CountRegimeShifts(ctx, 7)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Failed to count regime shifts")
	}
	if shifts >= 3 {
		return true, fmt.Sprintf("%d regime shifts in the past 7 days", shifts)
	}
	if reading.Regime == RegimeHighVolatility && reading.VIX >= vixExtreme {
		return true, fmt.Sprintf("extreme volatility, VIX %.1f", reading.VIX)
	}
	return false, ""
}

// detectAndCorrect runs every bias detector and mutates proposed in place
// with the corrections. Thrashing agents are marked in frozen so the later
// normalization leaves them untouched. Returns the findings for the report.
func (l *Loop) detectAndCorrect(ctx context.Context, records []AgentRecord, byName map[string]AgentRecord, proposed map[string]float64, frozen map[string]bool, regime, previous MarketRegime) []Finding {
	var findings []Finding

	if f := detectOverfitting(records); f != nil {
		findings = append(findings, *f)
		for _, name := range f.Agents {
			proposed[name] = proposeWeight(byName[name], l.timeframeWeights(ctx), overfitChangeCap)
		}
	}

	if f := detectRecency(records); f != nil {
		findings = append(findings, *f)
		for _, name := range f.Agents {
			proposed[name] = proposeWeight(byName[name], recencyTimeframeWeights, dailyChangeCap)
		}
	}

	histories := make(map[string][]db.AgentWeight, len(records))
	for _, rec := range records {
		history, err := l.weights.History(ctx, rec.Name, 30)
		if err != nil {
			l.logger.Warn().Err(err).Str("agent", rec.Name).Msg("Failed to load weight history")
			continue
		}
		histories[rec.Name] = history
	}
	if f := detectThrashing(histories); f != nil {
		findings = append(findings, *f)
		for _, name := range f.Agents {
			name := name
			proposed[name] = byName[name].Old
			frozen[name] = true
			l.audit(ctx, db.LearningEvent{
				EventType: db.EventFreeze,
				AgentName: &name,
				BiasType:  (*string)(&f.Bias),
				Reasoning: "Weight frozen for thrashing",
			})
		}
	}

	agentNames := make([]string, 0, len(records))
	for _, rec := range records {
		agentNames = append(agentNames, rec.Name)
	}
	if f := detectRegimeBlindness(regime, previous, agentNames); f != nil {
		findings = append(findings, *f)
		for _, name := range f.Agents {
			proposed[name] = 0.7*proposed[name] + 0.3*byName[name].Old
		}
	}

	for i := range findings {
		f := findings[i]
		l.audit(ctx, db.LearningEvent{
			EventType: db.EventBiasDetected,
			BiasType:  (*string)(&f.Bias),
			Reasoning: fmt.Sprintf("[%s] %s", f.Severity, f.Reasoning),
		})
		l.publish(ctx, events.SubjectBiasDetected, map[string]interface{}{
			"bias": string(f.Bias), "severity": string(f.Severity), "agents": f.Agents,
		})
	}
	return findings
}

// guardrailViolation returns a non-empty reason when the proposed vector
// breaks any hard limit.
func (l *Loop) guardrailViolation(ctx context.Context, current, proposed map[string]float64) string {
	weekAgo := time.Now().AddDate(0, 0, -7)
	for _, name := range sortedAgentNames(proposed) {
		w := proposed[name]
		if w < weightMinBound || w > weightMaxBound {
			return fmt.Sprintf("%s weight %.3f outside [%.2f, %.2f]", name, w, weightMinBound, weightMaxBound)
		}

		base, err := l.weights.WeightAsOf(ctx, name, weekAgo)
		if err != nil || base == 0 {
			continue // no baseline yet, weekly cap not enforceable
		}
		if math.Abs(w-base)/base > weeklyChangeCap {
			return fmt.Sprintf("%s 7-day change %.1f%% exceeds %.0f%%", name, math.Abs(w-base)/base*100, weeklyChangeCap*100)
		}
	}

	n := float64(len(proposed))
	sum := 0.0
	for _, w := range proposed {
		sum += w
	}
	if math.Abs(sum-n) > sumDriftCap*n {
		return fmt.Sprintf("weight sum %.3f drifted more than %.0f%% from %d", sum, sumDriftCap*100, len(proposed))
	}
	return ""
}

// applyGateBlocks enforces the apply-policy gates; empty string means go
func (l *Loop) applyGateBlocks(ctx context.Context, confidence float64) string {
	autoEnabled := l.config.GetBool(ctx, db.KeyAutoLearningEnabled, true)
	humanReview := l.config.GetBool(ctx, db.KeyHumanReviewRequired, false)
	minConfidence := l.config.GetFloat(ctx, db.KeyMinConfidenceForAuto, defaultMinConfidenceForAuto)

	if !autoEnabled {
		return "auto learning disabled"
	}
	if humanReview && confidence < minConfidence {
		return fmt.Sprintf("confidence %.2f below auto threshold %.2f", confidence, minConfidence)
	}
	return ""
}

// apply persists the new weights and writes the audit events
func (l *Loop) apply(ctx context.Context, current, proposed map[string]float64, byName map[string]AgentRecord, report *RunReport) error {
	now := time.Now()
	rows := make([]db.AgentWeight, 0, len(proposed))
	for _, name := range sortedAgentNames(proposed) {
		rec := byName[name]
		rows = append(rows, db.AgentWeight{
			AgentName: name,
			Date:      now,
			Weight:    proposed[name],
			WinRate7:  rec.Windows[7].WinRate,
			WinRate30: rec.Windows[30].WinRate,
			WinRate90: rec.Windows[90].WinRate,
			Trades7:   rec.Windows[7].Trades,
			Trades30:  rec.Windows[30].Trades,
			Trades90:  rec.Windows[90].Trades,
		})
	}

	if err := l.weights.SaveWeights(ctx, now, rows); err != nil {
		return fmt.Errorf("failed to persist weights: %w", err)
	}

	for _, name := range sortedAgentNames(proposed) {
		name := name
		oldW, newW := current[name], proposed[name]
		l.audit(ctx, db.LearningEvent{
			EventType:       db.EventWeightUpdate,
			AgentName:       &name,
			OldValue:        &oldW,
			NewValue:        &newW,
			Reasoning:       "Daily weight optimization",
			ConfidenceLevel: &report.Confidence,
		})
		l.publish(ctx, events.SubjectWeightUpdate, map[string]interface{}{
			"agent": name, "old": oldW, "new": newW, "confidence": report.Confidence,
		})
	}

	for _, f := range report.Findings {
		f := f
		l.audit(ctx, db.LearningEvent{
			EventType: db.EventCorrectionApplied,
			BiasType:  (*string)(&f.Bias),
			Reasoning: fmt.Sprintf("Correction applied for %s (%s)", f.Bias, f.Severity),
		})
	}

	l.logger.Info().
		Int("agents", len(proposed)).
		Float64("confidence", report.Confidence).
		Int("findings", len(report.Findings)).
		Msg("Agent weights updated")
	return nil
}

// CheckBiases runs the bias detectors against current performance without
// proposing or applying any weight change. HIGH-severity findings are
// audited and pushed to the alert channels.
func (l *Loop) CheckBiases(ctx context.Context) ([]Finding, error) {
	current, err := l.weights.CurrentWeights(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current weights: %w", err)
	}
	if len(current) == 0 {
		return nil, nil
	}

	records, err := collectPerformance(ctx, l.perf, current)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	if f := detectOverfitting(records); f != nil {
		findings = append(findings, *f)
	}
	if f := detectRecency(records); f != nil {
		findings = append(findings, *f)
	}

	histories := make(map[string][]db.AgentWeight, len(records))
	for _, rec := range records {
		history, err := l.weights.History(ctx, rec.Name, 30)
		if err != nil {
			l.logger.Warn().Err(err).Str("agent", rec.Name).Msg("Failed to load weight history")
			continue
		}
		histories[rec.Name] = history
	}
	if f := detectThrashing(histories); f != nil {
		findings = append(findings, *f)
	}

	for _, f := range findings {
		if f.Severity != SeverityHigh {
			continue
		}
		f := f
		l.audit(ctx, db.LearningEvent{
			EventType: db.EventBiasDetected,
			BiasType:  (*string)(&f.Bias),
			Reasoning: fmt.Sprintf("[%s] %s", f.Severity, f.Reasoning),
		})
		l.notify(ctx, alerts.LearningPayload{
			EventType: "BIAS_DETECTED",
			Reasoning: f.Reasoning,
		})
	}
	return findings, nil
}

// ManualOverride sets a single agent's weight directly, bypassing the
// optimizer but not the bounds.
func (l *Loop) ManualOverride(ctx context.Context, agentName string, weight float64, reason string) error {
	if weight < weightMinBound || weight > weightMaxBound {
		return fmt.Errorf("weight %.3f outside [%.2f, %.2f]", weight, weightMinBound, weightMaxBound)
	}

	current, err := l.weights.CurrentWeights(ctx)
	if err != nil {
		return fmt.Errorf("failed to load current weights: %w", err)
	}
	old, ok := current[agentName]
	if !ok {
		return fmt.Errorf("unknown agent %q", agentName)
	}

	now := time.Now()
	if err := l.weights.SaveWeights(ctx, now, []db.AgentWeight{{AgentName: agentName, Date: now, Weight: weight}}); err != nil {
		return fmt.Errorf("failed to persist override: %w", err)
	}

	confidence := 1.0
	l.audit(ctx, db.LearningEvent{
		EventType:       db.EventWeightUpdate,
		AgentName:       &agentName,
		OldValue:        &old,
		NewValue:        &weight,
		Reasoning:       "Manual override: " + reason,
		ConfidenceLevel: &confidence,
	})
	l.notify(ctx, alerts.LearningPayload{
		EventType: "WEIGHT_UPDATE", AgentName: agentName,
		OldValue: old, NewValue: weight,
		Reasoning: "Manual override: " + reason, Confidence: 1.0,
	})

	l.logger.Info().
		Str("agent", agentName).
		Float64("old", old).
		Float64("new", weight).
		Msg("Manual weight override applied")
	return nil
}

// timeframeWeights reads the configured window blend, e.g. "0.4,0.4,0.2"
// for the 7/30/90-day windows, falling back to the default.
func (l *Loop) timeframeWeights(ctx context.Context) map[int]float64 {
	raw, err := l.config.Get(ctx, db.KeyTimeframeWeights)
	if err != nil {
		return defaultTimeframeWeights
	}

	parts := strings.Split(raw, ",")
	if len(parts) != len(performanceWindows) {
		return defaultTimeframeWeights
	}

	parsed := make(map[int]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return defaultTimeframeWeights
		}
		parsed[performanceWindows[i]] = v
	}
	return parsed
}

func (l *Loop) audit(ctx context.Context, event db.LearningEvent) {
	if err := l.events.Append(ctx, event); err != nil {
		l.logger.Error().Err(err).Str("event_type", string(event.EventType)).Msg("Failed to record learning event")
	}
}

func (l *Loop) notify(ctx context.Context, p alerts.LearningPayload) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.SendLearningEvent(ctx, p); err != nil {
		l.logger.Error().Err(err).Msg("Failed to send learning alert")
	}
}

func (l *Loop) publish(ctx context.Context, subject string, payload interface{}) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, subject, payload); err != nil {
		l.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish learning event")
	}
}
