package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zurychhh/alpha-machine-sub000/internal/alerts"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/ensemble"
	"github.com/zurychhh/alpha-machine-sub000/internal/events"
)

// alertConfidenceFloor is the minimum stored confidence bucket that
// triggers an immediate alert.
const alertConfidenceFloor = 4

// Saver persists a signal plus its agent analyses atomically
type Saver interface {
	SaveWithAnalyses(ctx context.Context, signal *db.StoredSignal, analyses []db.AgentAnalysis) error
}

// Notifier pushes a high-confidence signal to alert channels
type Notifier interface {
	SendSignalAlert(ctx context.Context, p alerts.SignalPayload) error
}

// Publisher emits domain events to the message bus
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// Service translates consensus signals into stored records and drives the
// save-then-notify flow. Alert and event failures never fail the save.
type Service struct {
	store     Saver
	notifier  Notifier
	publisher Publisher
	portfolio float64
	logger    zerolog.Logger
}

// NewService creates a signal service. notifier and publisher may be nil
// when alerting or eventing is not configured.
func NewService(store Saver, notifier Notifier, publisher Publisher, portfolioValue float64, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		portfolio: portfolioValue,
		logger:    logger.With().Str("component", "signal_service").Logger(),
	}
}

// createdEvent is the payload published on signals.created
type createdEvent struct {
	SignalID   int64   `json:"signal_id"`
	Ticker     string  `json:"ticker"`
	SignalType string  `json:"signal_type"`
	Confidence int     `json:"confidence"`
	EntryPrice float64 `json:"entry_price"`
	ShareCount int     `json:"share_count"`
	RunLabel   string  `json:"run_label"`
}

// Process translates and persists one consensus signal. A duplicate run for
// the same (ticker, day, label) is skipped and reported as (nil, nil).
func (s *Service) Process(ctx context.Context, consensus ensemble.ConsensusSignal, entryPrice float64, runLabel string) (*db.StoredSignal, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("invalid entry price %.2f for %s", entryPrice, consensus.Ticker)
	}

	stored := Translate(consensus, entryPrice, s.portfolio)
	stored.RunLabel = runLabel
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	analyses := analysesFromOpinions(consensus.Opinions)

	if err := s.store.SaveWithAnalyses(ctx, &stored, analyses); err != nil {
		if errors.Is(err, db.ErrDuplicateSignal) {
			s.logger.Info().
				Str("ticker", stored.Ticker).
				Str("run_label", runLabel).
				Msg("Duplicate signal for run, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to persist signal: %w", err)
	}

	s.notify(ctx, stored, consensus.Confidence)
	s.publish(ctx, stored)

	return &stored, nil
}

// notify sends an alert for high-confidence actionable signals
func (s *Service) notify(ctx context.Context, stored db.StoredSignal, rawConfidence float64) {
	if s.notifier == nil {
		return
	}
	if stored.Confidence < alertConfidenceFloor || stored.SignalType == db.SignalTypeHold {
		return
	}

	err := s.notifier.SendSignalAlert(ctx, alerts.SignalPayload{
		Ticker:     stored.Ticker,
		SignalType: string(stored.SignalType),
		Confidence: rawConfidence,
		EntryPrice: stored.EntryPrice,
		Target:     stored.TargetPrice,
		StopLoss:   stored.StopLoss,
		Timestamp:  stored.CreatedAt,
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("signal_id", stored.ID).Msg("Failed to send signal alert")
	}
}

// publish emits signals.created for downstream consumers
func (s *Service) publish(ctx context.Context, stored db.StoredSignal) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.Publish(ctx, events.SubjectSignalCreated, createdEvent{
		SignalID:   stored.ID,
		Ticker:     stored.Ticker,
		SignalType: string(stored.SignalType),
		Confidence: stored.Confidence,
		EntryPrice: stored.EntryPrice,
		ShareCount: stored.ShareCount,
		RunLabel:   stored.RunLabel,
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("signal_id", stored.ID).Msg("Failed to publish signal event")
	}
}
