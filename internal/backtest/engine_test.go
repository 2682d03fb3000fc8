package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

type fakeSignalLister struct {
	signals []db.StoredSignal
}

func (f *fakeSignalLister) ListBuySignalsInWindow(ctx context.Context, start, end time.Time, tickers []string) ([]db.StoredSignal, error) {
	return f.signals, nil
}

type fakeRunSaver struct {
	run    *db.BacktestRun
	trades []db.BacktestTrade
}

func (f *fakeRunSaver) SaveRun(ctx context.Context, run *db.BacktestRun, trades []db.BacktestTrade) error {
	f.run = run
	f.trades = trades
	return nil
}

// scriptedHistory returns the same bar for every requested day
type scriptedHistory struct {
	bar *Bar
}

func (s *scriptedHistory) DailyBar(ctx context.Context, ticker string, date time.Time) (*Bar, error) {
	if s.bar == nil {
		return nil, nil
	}
	b := *s.bar
	b.Date = date
	return &b, nil
}

// flatWalk never triggers stop or target
func flatWalk(entryPrice float64, dayOffset, holdDays int) Bar {
	return Bar{Open: entryPrice, High: entryPrice * 1.001, Low: entryPrice * 0.999, Close: entryPrice}
}

func testConfig(mode AllocationMode) Config {
	return Config{
		Start:           time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:             time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		Mode:            mode,
		StartingCapital: 50_000,
		HoldPeriodDays:  7,
	}
}

func signalOn(day time.Time, id int64, ticker string) db.StoredSignal {
	return db.StoredSignal{
		ID:          id,
		Ticker:      ticker,
		SignalType:  db.SignalTypeBuy,
		Confidence:  4,
		EntryPrice:  100,
		TargetPrice: 125,
		StopLoss:    90,
		CreatedAt:   day,
	}
}

func TestRunStopLossExit(t *testing.T) {
	day := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	lister := &fakeSignalLister{signals: []db.StoredSignal{signalOn(day, 1, "NVDA")}}
	saver := &fakeRunSaver{}
	history := &scriptedHistory{bar: &Bar{Open: 95, High: 96, Low: 88, Close: 89}}

	engine := NewEngine(lister, saver, history, zerolog.Nop())
	result, err := engine.Run(context.Background(), testConfig(ModeCoreFocus))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, "STOP_LOSS", trade.ExitReason)
	assert.Equal(t, 90.0, trade.ExitPrice) // exits at the stop, not the low
	assert.Equal(t, "LOSS", trade.Result)
	assert.Equal(t, 1, trade.DaysHeld)
}

func TestRunStopCheckedBeforeTarget(t *testing.T) {
	// Bar wide enough to hit both stop and target: conservative exit wins.
	day := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	lister := &fakeSignalLister{signals: []db.StoredSignal{signalOn(day, 1, "NVDA")}}
	history := &scriptedHistory{bar: &Bar{Open: 100, High: 130, Low: 85, Close: 110}}

	engine := NewEngine(lister, &fakeRunSaver{}, history, zerolog.Nop())
	result, err := engine.Run(context.Background(), testConfig(ModeCoreFocus))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, "STOP_LOSS", result.Trades[0].ExitReason)
	assert.Equal(t, 90.0, result.Trades[0].ExitPrice)
}

func TestRunTakeProfitExit(t *testing.T) {
	day := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	lister := &fakeSignalLister{signals: []db.StoredSignal{signalOn(day, 1, "NVDA")}}
	history := &scriptedHistory{bar: &Bar{Open: 120, High: 126, Low: 118, Close: 124}}

	engine := NewEngine(lister, &fakeRunSaver{}, history, zerolog.Nop())
	result, err := engine.Run(context.Background(), testConfig(ModeCoreFocus))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, "TAKE_PROFIT", trade.ExitReason)
	assert.Equal(t, 125.0, trade.ExitPrice)
	assert.Equal(t, "WIN", trade.Result)
}

func TestRunHoldPeriodEndExit(t *testing.T) {
	day := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	lister := &fakeSignalLister{signals: []db.StoredSignal{signalOn(day, 1, "NVDA")}}
	history := &scriptedHistory{bar: &Bar{Open: 104, High: 106, Low: 103, Close: 105}}

	engine := NewEngine(lister, &fakeRunSaver{}, history, zerolog.Nop())
	cfg := testConfig(ModeCoreFocus)
	result, err := engine.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, "HOLD_PERIOD_END", trade.ExitReason)
	assert.Equal(t, 105.0, trade.ExitPrice) // last day's close
	assert.Equal(t, cfg.HoldPeriodDays, trade.DaysHeld)
	assert.False(t, trade.ExitDate.After(trade.EntryDate.AddDate(0, 0, cfg.HoldPeriodDays)))
}

func TestRunMissingBarsUseInjectedWalk(t *testing.T) {
	day := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	lister := &fakeSignalLister{signals: []db.StoredSignal{signalOn(day, 1, "NVDA")}}

	// No history provider at all; flat walk forces a hold-period exit.
	engine := NewEngine(lister, &fakeRunSaver{}, nil, zerolog.Nop(), WithWalkFunc(flatWalk))
	result, err := engine.Run(context.Background(), testConfig(ModeCoreFocus))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, "HOLD_PERIOD_END", result.Trades[0].ExitReason)
	assert.Equal(t, 100.0, result.Trades[0].ExitPrice)
}

func TestRunCapitalCompoundsAcrossDays(t *testing.T) {
	day1 := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 10, 10, 0, 0, 0, time.UTC)
	lister := &fakeSignalLister{signals: []db.StoredSignal{
		signalOn(day1, 1, "NVDA"),
		signalOn(day2, 2, "AMD"),
	}}
	// Every position take-profits at 125 for +25%.
	history := &scriptedHistory{bar: &Bar{Open: 124, High: 126, Low: 123, Close: 125}}

	engine := NewEngine(lister, &fakeRunSaver{}, history, zerolog.Nop())
	result, err := engine.Run(context.Background(), testConfig(ModeCoreFocus))
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	// Day 1: 60% of 50k = 300 shares, +25 each = +7500.
	assert.InDelta(t, 7_500, result.Trades[0].PnL, 1e-9)
	// Day 2 allocates against 57_500: 60% = 34_500 -> 345 shares.
	assert.Equal(t, 345, result.Trades[1].Shares)
}

func TestRunPersistsRun(t *testing.T) {
	day := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	lister := &fakeSignalLister{signals: []db.StoredSignal{signalOn(day, 1, "NVDA")}}
	saver := &fakeRunSaver{}
	history := &scriptedHistory{bar: &Bar{Open: 124, High: 126, Low: 123, Close: 125}}

	engine := NewEngine(lister, saver, history, zerolog.Nop())
	result, err := engine.Run(context.Background(), testConfig(ModeBalanced))
	require.NoError(t, err)

	require.NotNil(t, saver.run)
	assert.Equal(t, result.Run.ID, saver.run.ID)
	assert.Equal(t, "BALANCED", saver.run.AllocationMode)
	assert.Equal(t, 1, saver.run.TotalTrades)
	assert.Len(t, saver.trades, 1)
}

func TestRunRejectsBadConfig(t *testing.T) {
	engine := NewEngine(&fakeSignalLister{}, nil, nil, zerolog.Nop())

	cfg := testConfig(ModeCoreFocus)
	cfg.StartingCapital = 0
	_, err := engine.Run(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig(AllocationMode("NOPE"))
	_, err = engine.Run(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunNoSignals(t *testing.T) {
	engine := NewEngine(&fakeSignalLister{}, &fakeRunSaver{}, nil, zerolog.Nop(), WithWalkFunc(flatWalk))
	result, err := engine.Run(context.Background(), testConfig(ModeDiversified))
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, 0, result.Metrics.TotalTrades)
	assert.Equal(t, 0.0, result.Metrics.TotalPnL)
}
