package backtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

// Bar is one day of OHLC data
type Bar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// HistoryProvider serves daily bars. A missing bar is (nil, nil); the
// engine synthesizes a fallback walk instead of aborting.
type HistoryProvider interface {
	DailyBar(ctx context.Context, ticker string, date time.Time) (*Bar, error)
}

// WalkFunc synthesizes a bar when history has a gap. dayOffset counts days
// since entry, holdDays is the full hold window.
type WalkFunc func(entryPrice float64, dayOffset, holdDays int) Bar

// defaultWalk drifts the price with a small, slightly positive random step
func defaultWalk(rng *rand.Rand) WalkFunc {
	return func(entryPrice float64, dayOffset, holdDays int) Bar {
		movement := -0.02 + rng.Float64()*0.045 // uniform in [-0.02, 0.025)
		dayClose := entryPrice * (1 + movement*float64(dayOffset)/float64(holdDays))
		return Bar{
			Open:  dayClose,
			High:  dayClose * 1.01,
			Low:   dayClose * 0.99,
			Close: dayClose,
		}
	}
}

// SignalLister loads BUY signals for the simulation window
type SignalLister interface {
	ListBuySignalsInWindow(ctx context.Context, start, end time.Time, tickers []string) ([]db.StoredSignal, error)
}

// RunSaver persists the finished run
type RunSaver interface {
	SaveRun(ctx context.Context, run *db.BacktestRun, trades []db.BacktestTrade) error
}

// Config describes one backtest run
type Config struct {
	Start           time.Time
	End             time.Time
	Mode            AllocationMode
	StartingCapital float64
	HoldPeriodDays  int
	Tickers         []string
}

// Result is the full output of one run
type Result struct {
	Run     db.BacktestRun
	Trades  []db.BacktestTrade
	Metrics Metrics
}

// Engine replays stored signals day by day
type Engine struct {
	signals SignalLister
	store   RunSaver
	history HistoryProvider
	walk    WalkFunc
	logger  zerolog.Logger
}

// Option customizes engine construction
type Option func(*Engine)

// WithWalkFunc overrides the synthetic bar generator, mainly for tests
func WithWalkFunc(walk WalkFunc) Option {
	return func(e *Engine) { e.walk = walk }
}

// NewEngine creates a backtest engine. store may be nil for dry runs that
// only need the in-memory result.
func NewEngine(signals SignalLister, store RunSaver, history HistoryProvider, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		signals: signals,
		store:   store,
		history: history,
		walk:    defaultWalk(rand.New(rand.NewSource(time.Now().UnixNano()))),
		logger:  logger.With().Str("component", "backtest_engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes a full simulation and persists the result
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.StartingCapital <= 0 {
		return nil, fmt.Errorf("starting capital must be positive, got %.2f", cfg.StartingCapital)
	}
	if cfg.HoldPeriodDays <= 0 {
		cfg.HoldPeriodDays = 7
	}
	if _, err := ParseAllocationMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	runID := uuid.New()
	e.logger.Info().
		Str("backtest_id", runID.String()).
		Str("mode", string(cfg.Mode)).
		Time("start", cfg.Start).
		Time("end", cfg.End).
		Float64("capital", cfg.StartingCapital).
		Msg("Starting backtest")

	signals, err := e.signals.ListBuySignalsInWindow(ctx, cfg.Start, cfg.End, cfg.Tickers)
	if err != nil {
		return nil, fmt.Errorf("failed to load signals: %w", err)
	}

	var trades []db.BacktestTrade
	realized := 0.0

	for _, day := range groupByDay(signals) {
		ranked := Rank(day.signals)
		if len(ranked) == 0 {
			continue
		}

		currentCapital := cfg.StartingCapital + realized
		positions, err := Allocate(ranked, currentCapital, cfg.Mode)
		if err != nil {
			return nil, err
		}

		for _, pos := range positions {
			if pos.Shares == 0 {
				continue
			}
			trade := e.simulate(ctx, runID, pos, day.date, cfg.HoldPeriodDays)
			realized += trade.PnL
			trades = append(trades, trade)
		}
	}

	metrics := computeMetrics(trades, cfg.StartingCapital)

	run := db.BacktestRun{
		ID:              runID,
		StartDate:       cfg.Start,
		EndDate:         cfg.End,
		AllocationMode:  string(cfg.Mode),
		StartingCapital: cfg.StartingCapital,
		HoldPeriodDays:  cfg.HoldPeriodDays,
		TotalPnL:        metrics.TotalPnL,
		WinRate:         metrics.WinRate,
		ProfitFactor:    metrics.ProfitFactor,
		SharpeRatio:     metrics.SharpeRatio,
		MaxDrawdown:     metrics.MaxDrawdown,
		TotalTrades:     metrics.TotalTrades,
	}

	if e.store != nil {
		if err := e.store.SaveRun(ctx, &run, trades); err != nil {
			return nil, fmt.Errorf("failed to persist backtest: %w", err)
		}
	}

	e.logger.Info().
		Str("backtest_id", runID.String()).
		Int("trades", metrics.TotalTrades).
		Float64("total_pnl", metrics.TotalPnL).
		Float64("win_rate", metrics.WinRate).
		Msg("Backtest complete")

	return &Result{Run: run, Trades: trades, Metrics: metrics}, nil
}

// simulate walks one position forward until stop, target, or hold expiry.
// The stop is checked before the target so an ambiguous bar resolves
// conservatively.
func (e *Engine) simulate(ctx context.Context, runID uuid.UUID, pos Position, entryDate time.Time, holdDays int) db.BacktestTrade {
	sig := pos.Signal
	entry := sig.EntryPrice

	exitPrice := 0.0
	var exitDate time.Time
	exitReason := ""
	lastClose := entry

	for offset := 1; offset <= holdDays; offset++ {
		day := entryDate.AddDate(0, 0, offset)
		bar := e.barFor(ctx, sig.Ticker, day, entry, offset, holdDays)
		lastClose = bar.Close

		if bar.Low <= sig.StopLoss {
			exitPrice = sig.StopLoss
			exitDate = day
			exitReason = "STOP_LOSS"
			break
		}
		if bar.High >= sig.TargetPrice {
			exitPrice = sig.TargetPrice
			exitDate = day
			exitReason = "TAKE_PROFIT"
			break
		}
	}

	if exitReason == "" {
		exitPrice = lastClose
		exitDate = entryDate.AddDate(0, 0, holdDays)
		exitReason = "HOLD_PERIOD_END"
	}

	pnl := (exitPrice - entry) * float64(pos.Shares)
	pnlPct := 0.0
	if entry > 0 {
		pnlPct = (exitPrice - entry) / entry * 100
	}

	result := "LOSS"
	if pnl > 0 {
		result = "WIN"
	}

	return db.BacktestTrade{
		BacktestID:    runID,
		SignalID:      sig.ID,
		Ticker:        sig.Ticker,
		EntryDate:     entryDate,
		ExitDate:      exitDate,
		EntryPrice:    entry,
		ExitPrice:     exitPrice,
		Shares:        pos.Shares,
		PnL:           pnl,
		PnLPct:        pnlPct,
		Result:        result,
		DaysHeld:      int(exitDate.Sub(entryDate).Hours() / 24),
		ExitReason:    exitReason,
		PositionType:  pos.PositionType,
		AllocationPct: pos.AllocationPct,
	}
}

// barFor fetches a historical bar, falling back to the synthetic walk
func (e *Engine) barFor(ctx context.Context, ticker string, day time.Time, entryPrice float64, offset, holdDays int) Bar {
	if e.history != nil {
		bar, err := e.history.DailyBar(ctx, ticker, day)
		if err != nil {
			e.logger.Warn().Err(err).Str("ticker", ticker).Time("date", day).Msg("History lookup failed, using synthetic bar")
		} else if bar != nil {
			return *bar
		}
	}
	synthetic := e.walk(entryPrice, offset, holdDays)
	synthetic.Date = day
	return synthetic
}

type tradingDay struct {
	date    time.Time
	signals []db.StoredSignal
}

// groupByDay buckets signals by calendar day, ascending
func groupByDay(signals []db.StoredSignal) []tradingDay {
	byDay := make(map[string][]db.StoredSignal)
	for _, sig := range signals {
		key := sig.CreatedAt.Format("2006-01-02")
		byDay[key] = append(byDay[key], sig)
	}

	keys := make([]string, 0, len(byDay))
	for k := range byDay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	days := make([]tradingDay, 0, len(keys))
	for _, k := range keys {
		date, _ := time.Parse("2006-01-02", k)
		days = append(days, tradingDay{date: date, signals: byDay[k]})
	}
	return days
}
