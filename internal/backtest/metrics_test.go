package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

func trade(pnl, pnlPct float64, daysHeld int) db.BacktestTrade {
	result := "LOSS"
	if pnl > 0 {
		result = "WIN"
	}
	return db.BacktestTrade{PnL: pnl, PnLPct: pnlPct, Result: result, DaysHeld: daysHeld}
}

func TestComputeMetricsBasics(t *testing.T) {
	trades := []db.BacktestTrade{
		trade(1000, 10, 3),
		trade(-400, -4, 5),
		trade(600, 6, 2),
	}

	m := computeMetrics(trades, 50_000)

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.Wins)
	assert.Equal(t, 1, m.Losses)
	assert.InDelta(t, 66.666, m.WinRate, 0.01)
	assert.InDelta(t, 1200, m.TotalPnL, 1e-9)
	assert.InDelta(t, 800, m.AvgGain, 1e-9)
	assert.InDelta(t, -400, m.AvgLoss, 1e-9)
	assert.InDelta(t, 1000, m.LargestWin, 1e-9)
	assert.InDelta(t, -400, m.LargestLoss, 1e-9)
	assert.InDelta(t, 1600.0/400.0, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 10.0/3.0, m.AvgHoldDays, 1e-9)
	assert.InDelta(t, 2.4, m.ReturnPct, 1e-9)
}

func TestProfitFactorInfiniteWithoutLosses(t *testing.T) {
	m := computeMetrics([]db.BacktestTrade{trade(500, 5, 1), trade(300, 3, 2)}, 10_000)
	assert.True(t, math.IsInf(m.ProfitFactor, 1))
}

func TestProfitFactorZeroWithNoTrades(t *testing.T) {
	m := computeMetrics(nil, 10_000)
	assert.Equal(t, 0.0, m.ProfitFactor)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 0.0, m.WinRate)
}

func TestSharpeZeroWhenFlat(t *testing.T) {
	m := computeMetrics([]db.BacktestTrade{trade(100, 2, 1), trade(100, 2, 1)}, 10_000)
	assert.Equal(t, 0.0, m.SharpeRatio)

	m = computeMetrics([]db.BacktestTrade{trade(100, 2, 1)}, 10_000)
	assert.Equal(t, 0.0, m.SharpeRatio)
}

func TestSharpePositiveForMixedReturns(t *testing.T) {
	m := computeMetrics([]db.BacktestTrade{
		trade(500, 10, 1),
		trade(-100, -2, 1),
		trade(300, 6, 1),
	}, 10_000)
	// mean of {0.10, -0.02, 0.06} over its stdev
	assert.Greater(t, m.SharpeRatio, 0.0)
}

func TestMaxDrawdownFractionOfStartingCapital(t *testing.T) {
	trades := []db.BacktestTrade{
		trade(2000, 4, 1),  // equity 52k, peak 52k
		trade(-5000, -9, 1), // equity 47k, dd 5k = 10% of 50k
		trade(1000, 2, 1),
	}

	m := computeMetrics(trades, 50_000)
	assert.InDelta(t, 0.10, m.MaxDrawdown, 1e-9)
}

func TestReportRendersKeyLines(t *testing.T) {
	run := db.BacktestRun{
		ID:              uuid.New(),
		StartDate:       time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		AllocationMode:  "CORE_FOCUS",
		StartingCapital: 50_000,
		HoldPeriodDays:  7,
	}
	m := computeMetrics([]db.BacktestTrade{trade(1200, 8, 4)}, 50_000)

	report := Report(run, m)
	assert.Contains(t, report, "CORE_FOCUS")
	assert.Contains(t, report, "2026-08-01")
	assert.Contains(t, report, "Profit factor: inf")
	assert.Contains(t, report, "1 wins")
}

func TestReportFiniteProfitFactor(t *testing.T) {
	run := db.BacktestRun{ID: uuid.New(), AllocationMode: "BALANCED", StartingCapital: 10_000}
	m := computeMetrics([]db.BacktestTrade{trade(200, 2, 1), trade(-100, -1, 1)}, 10_000)

	report := Report(run, m)
	assert.Contains(t, report, "Profit factor: 2.00")
}
