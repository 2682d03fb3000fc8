package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zurychhh/alpha-machine-sub000/internal/agents"
	"github.com/zurychhh/alpha-machine-sub000/internal/alerts"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/ensemble"
	"github.com/zurychhh/alpha-machine-sub000/internal/learning"
	"github.com/zurychhh/alpha-machine-sub000/internal/market"
)

// Hold-move tolerance for the performance review: a HOLD counts as on track
// while the price stays within this band of entry.
const holdBandPct = 0.02

// How far back the review and digest jobs look
const (
	reviewLookbackDays = 7
	digestLookbackDays = 1
)

const historyDaysForAgents = 90

// MarketData is the slice of the data service the jobs consume
type MarketData interface {
	Snapshot(ctx context.Context, ticker string) (*market.Snapshot, error)
	RefreshQuote(ctx context.Context, ticker string) (*market.Quote, error)
	RefreshSentiment(ctx context.Context, ticker string) (*market.Sentiment, error)
	SentimentFor(ctx context.Context, ticker string) *market.Sentiment
	Historical(ctx context.Context, ticker string, days int) ([]market.Bar, error)
	Indicators(ctx context.Context, ticker string) (*market.Indicators, error)
}

// Watchlist supplies the active ticker set
type Watchlist interface {
	ActiveTickers(ctx context.Context) ([]string, error)
}

// ConsensusGenerator produces one consensus signal per ticker
type ConsensusGenerator interface {
	GenerateSignal(ctx context.Context, input agents.Input) ensemble.ConsensusSignal
	SetWeight(name string, weight float64) bool
}

// SignalProcessor translates and persists a consensus
type SignalProcessor interface {
	Process(ctx context.Context, consensus ensemble.ConsensusSignal, entryPrice float64, runLabel string) (*db.StoredSignal, error)
}

// SignalReader lists persisted signals for the review and digest jobs
type SignalReader interface {
	ListByStatus(ctx context.Context, statuses []db.SignalStatus, sinceDays int) ([]db.StoredSignal, error)
}

// Learner is the learning loop surface the scheduler drives
type Learner interface {
	Run(ctx context.Context) (*learning.RunReport, error)
	CheckBiases(ctx context.Context) ([]learning.Finding, error)
}

// WeightReader reloads persisted weights after a learning run
type WeightReader interface {
	CurrentWeights(ctx context.Context) (map[string]float64, error)
}

// Summarizer pushes the morning digest
type Summarizer interface {
	SendDailySummary(ctx context.Context, lines []alerts.SummaryLine) error
}

// Pipeline implements the scheduled jobs over the injected services. Every
// batch job isolates per-ticker failures: one bad ticker is logged and the
// rest of the batch continues.
type Pipeline struct {
	data      MarketData
	watchlist Watchlist
	generator ConsensusGenerator
	signals   SignalProcessor
	reader    SignalReader
	learner   Learner
	weights   WeightReader
	summary   Summarizer
	parallel  int
	logger    zerolog.Logger
}

// NewPipeline wires the job implementations. parallel bounds per-ticker
// fan-out; zero means 4.
func NewPipeline(
	data MarketData,
	watchlist Watchlist,
	generator ConsensusGenerator,
	signals SignalProcessor,
	reader SignalReader,
	learner Learner,
	weights WeightReader,
	summary Summarizer,
	parallel int,
	logger zerolog.Logger,
) *Pipeline {
	if parallel <= 0 {
		parallel = 4
	}
	return &Pipeline{
		data:      data,
		watchlist: watchlist,
		generator: generator,
		signals:   signals,
		reader:    reader,
		learner:   learner,
		weights:   weights,
		summary:   summary,
		parallel:  parallel,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// forEachTicker runs fn over the active watchlist with bounded parallelism.
// fn errors are logged per ticker and never abort the batch; the returned
// error covers only the watchlist load itself.
func (p *Pipeline) forEachTicker(ctx context.Context, job string, fn func(ctx context.Context, ticker string) error) error {
	tickers, err := p.watchlist.ActiveTickers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load watchlist: %w", err)
	}
	if len(tickers) == 0 {
		p.logger.Warn().Str("job", job).Msg("Watchlist is empty, nothing to do")
		return nil
	}

	var failed atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.parallel)
	for _, ticker := range tickers {
		eg.Go(func() error {
			if err := fn(egCtx, ticker); err != nil {
				failed.Add(1)
				p.logger.Error().
					Err(err).
					Str("job", job).
					Str("ticker", ticker).
					Msg("Ticker failed, continuing batch")
			}
			return nil
		})
	}
	eg.Wait()

	p.logger.Info().
		Str("job", job).
		Int("tickers", len(tickers)).
		Int64("failed", failed.Load()).
		Msg("Batch finished")
	return nil
}

// FetchMarketData refreshes quotes and indicators for the watchlist
func (p *Pipeline) FetchMarketData(ctx context.Context) error {
	return p.forEachTicker(ctx, "fetch_market_data", func(ctx context.Context, ticker string) error {
		if _, err := p.data.RefreshQuote(ctx, ticker); err != nil {
			return err
		}
		if _, err := p.data.Indicators(ctx, ticker); err != nil {
			// Indicators are best effort; a quote alone still feeds the cache.
			p.logger.Warn().Err(err).Str("ticker", ticker).Msg("Indicator refresh failed")
		}
		return nil
	})
}

// FetchSentiment re-aggregates sentiment for the watchlist
func (p *Pipeline) FetchSentiment(ctx context.Context) error {
	return p.forEachTicker(ctx, "fetch_sentiment", func(ctx context.Context, ticker string) error {
		_, err := p.data.RefreshSentiment(ctx, ticker)
		return err
	})
}

// GenerateDailySignals runs the ensemble over the watchlist and persists the
// resulting signals under runLabel. A (ticker, day, label) that already has a
// signal is skipped by the store.
func (p *Pipeline) GenerateDailySignals(ctx context.Context, runLabel string) error {
	return p.forEachTicker(ctx, "generate_daily_signals", func(ctx context.Context, ticker string) error {
		snap, err := p.data.Snapshot(ctx, ticker)
		if err != nil {
			return err
		}
		if snap.Quote.CurrentPrice == nil || *snap.Quote.CurrentPrice <= 0 {
			return fmt.Errorf("no usable price for %s", ticker)
		}

		input := agents.Input{
			Ticker:    ticker,
			Market:    snap,
			Sentiment: p.data.SentimentFor(ctx, ticker),
		}
		if history, err := p.data.Historical(ctx, ticker, historyDaysForAgents); err == nil {
			input.History = history
		}

		consensus := p.generator.GenerateSignal(ctx, input)
		_, err = p.signals.Process(ctx, consensus, *snap.Quote.CurrentPrice, runLabel)
		return err
	})
}

// ReviewLine is one signal's standing against the current price
type ReviewLine struct {
	SignalID     int64
	Ticker       string
	SignalType   db.SignalType
	EntryPrice   float64
	CurrentPrice float64
	MovePct      float64
	OnTrack      bool
}

// PerformanceReview summarizes how the open signals are tracking
type PerformanceReview struct {
	Checked  int
	OnTrack  int
	Accuracy float64 // fraction of checked signals moving the called direction
	Lines    []ReviewLine
}

// AnalyzeSignalPerformance compares recent open signals to the current price
// and reports directional accuracy.
func (p *Pipeline) AnalyzeSignalPerformance(ctx context.Context) (*PerformanceReview, error) {
	open := []db.SignalStatus{db.StatusPending, db.StatusApproved, db.StatusExecuted}
	signals, err := p.reader.ListByStatus(ctx, open, reviewLookbackDays)
	if err != nil {
		return nil, fmt.Errorf("failed to load open signals: %w", err)
	}

	review := &PerformanceReview{}
	for _, sig := range signals {
		quote, err := p.data.RefreshQuote(ctx, sig.Ticker)
		if err != nil || quote.CurrentPrice == nil {
			p.logger.Warn().Err(err).Str("ticker", sig.Ticker).Msg("No current price, skipping signal")
			continue
		}
		price := *quote.CurrentPrice

		movePct := 0.0
		if sig.EntryPrice > 0 {
			movePct = (price - sig.EntryPrice) / sig.EntryPrice
		}

		var onTrack bool
		switch sig.SignalType {
		case db.SignalTypeBuy:
			onTrack = movePct > 0
		case db.SignalTypeSell:
			onTrack = movePct < 0
		case db.SignalTypeHold:
			onTrack = movePct >= -holdBandPct && movePct <= holdBandPct
		}

		review.Checked++
		if onTrack {
			review.OnTrack++
		}
		review.Lines = append(review.Lines, ReviewLine{
			SignalID:     sig.ID,
			Ticker:       sig.Ticker,
			SignalType:   sig.SignalType,
			EntryPrice:   sig.EntryPrice,
			CurrentPrice: price,
			MovePct:      movePct,
			OnTrack:      onTrack,
		})
	}

	if review.Checked > 0 {
		review.Accuracy = float64(review.OnTrack) / float64(review.Checked)
	}
	p.logger.Info().
		Int("checked", review.Checked).
		Int("on_track", review.OnTrack).
		Float64("accuracy", review.Accuracy).
		Msg("Signal performance reviewed")
	return review, nil
}

// OptimizeAgentWeights runs the learning loop and, when the update applied,
// pushes the fresh weights into the live ensemble.
func (p *Pipeline) OptimizeAgentWeights(ctx context.Context) error {
	report, err := p.learner.Run(ctx)
	if err != nil {
		return fmt.Errorf("learning run failed: %w", err)
	}
	if !report.Applied {
		p.logger.Info().
			Str("blocked_reason", report.BlockedReason).
			Bool("frozen", report.Frozen).
			Msg("Learning run did not apply weights")
		return nil
	}

	weights, err := p.weights.CurrentWeights(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload weights: %w", err)
	}
	for name, w := range weights {
		if !p.generator.SetWeight(name, w) {
			p.logger.Warn().Str("agent", name).Msg("Weight saved for unregistered agent")
		}
	}
	p.logger.Info().Int("agents", len(weights)).Msg("Live agent weights refreshed")
	return nil
}

// SendDailySummary pushes the morning digest of yesterday's open signals
func (p *Pipeline) SendDailySummary(ctx context.Context) error {
	open := []db.SignalStatus{db.StatusPending, db.StatusApproved, db.StatusExecuted}
	signals, err := p.reader.ListByStatus(ctx, open, digestLookbackDays)
	if err != nil {
		return fmt.Errorf("failed to load signals for digest: %w", err)
	}

	lines := make([]alerts.SummaryLine, 0, len(signals))
	for _, sig := range signals {
		lines = append(lines, alerts.SummaryLine{
			Ticker:     sig.Ticker,
			SignalType: string(sig.SignalType),
			Confidence: sig.Confidence,
			Status:     string(sig.Status),
		})
	}
	return p.summary.SendDailySummary(ctx, lines)
}

// CheckCriticalBiases runs the bias detectors without touching weights
func (p *Pipeline) CheckCriticalBiases(ctx context.Context) ([]learning.Finding, error) {
	findings, err := p.learner.CheckBiases(ctx)
	if err != nil {
		return nil, fmt.Errorf("bias check failed: %w", err)
	}
	for _, f := range findings {
		p.logger.Warn().
			Str("bias", string(f.Bias)).
			Str("severity", string(f.Severity)).
			Strs("agents", f.Agents).
			Msg("Bias detected")
	}
	return findings, nil
}

// RunLabelFor names a scheduled generation run, e.g. "daily_0900". The label
// is part of the per-day dedup key, so the 09:00 and 12:00 runs can each
// store one signal per ticker.
func RunLabelFor(at time.Time, loc *time.Location) string {
	local := at.In(loc)
	return fmt.Sprintf("daily_%02d%02d", local.Hour(), local.Minute())
}
