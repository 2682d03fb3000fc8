package backtest

import (
	"fmt"
	"math"
	"strings"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

// Metrics summarizes the trades of one run
type Metrics struct {
	TotalPnL     float64 `json:"total_pnl"`
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"` // percentage
	AvgGain      float64 `json:"avg_gain"`
	AvgLoss      float64 `json:"avg_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"` // fraction of starting capital
	AvgHoldDays  float64 `json:"avg_hold_days"`
	ReturnPct    float64 `json:"return_pct"`
}

// computeMetrics folds the trade list into summary statistics
func computeMetrics(trades []db.BacktestTrade, startingCapital float64) Metrics {
	var m Metrics
	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return m
	}

	var grossWin, grossLoss float64
	var holdDays int
	returns := make([]float64, 0, len(trades))

	for _, t := range trades {
		m.TotalPnL += t.PnL
		holdDays += t.DaysHeld
		returns = append(returns, t.PnLPct/100)

		if t.PnL > 0 {
			m.Wins++
			grossWin += t.PnL
			if t.PnL > m.LargestWin {
				m.LargestWin = t.PnL
			}
		} else {
			m.Losses++
			grossLoss += t.PnL
			if t.PnL < m.LargestLoss {
				m.LargestLoss = t.PnL
			}
		}
	}

	m.WinRate = float64(m.Wins) / float64(m.TotalTrades) * 100
	m.AvgHoldDays = float64(holdDays) / float64(m.TotalTrades)
	if m.Wins > 0 {
		m.AvgGain = grossWin / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = grossLoss / float64(m.Losses)
	}

	switch {
	case grossLoss != 0:
		m.ProfitFactor = grossWin / math.Abs(grossLoss)
	case grossWin > 0:
		m.ProfitFactor = math.Inf(1)
	default:
		m.ProfitFactor = 0
	}

	m.SharpeRatio = sharpe(returns)
	m.MaxDrawdown = maxDrawdown(trades, startingCapital)
	if startingCapital > 0 {
		m.ReturnPct = m.TotalPnL / startingCapital * 100
	}
	return m
}

// sharpe is mean/stdev of per-trade returns, 0 when the spread is flat
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std
}

// maxDrawdown walks the cumulative P&L curve and reports the deepest
// peak-to-trough fall as a fraction of starting capital.
func maxDrawdown(trades []db.BacktestTrade, startingCapital float64) float64 {
	if startingCapital <= 0 {
		return 0
	}

	equity := startingCapital
	peak := startingCapital
	worst := 0.0

	for _, t := range trades {
		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / startingCapital; dd > worst {
			worst = dd
		}
	}
	return worst
}

// Report renders a plain-text summary of a finished run
func Report(run db.BacktestRun, m Metrics) string {
	var b strings.Builder

	fmt.Fprintf(&b, "BACKTEST REPORT %s\n", run.ID)
	fmt.Fprintf(&b, "Period:       %s to %s\n", run.StartDate.Format("2006-01-02"), run.EndDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Mode:         %s (hold %d days)\n", run.AllocationMode, run.HoldPeriodDays)
	fmt.Fprintf(&b, "Capital:      $%.2f -> $%.2f (%.2f%%)\n", run.StartingCapital, run.StartingCapital+m.TotalPnL, m.ReturnPct)
	fmt.Fprintf(&b, "Trades:       %d (%d wins / %d losses, %.1f%% win rate)\n", m.TotalTrades, m.Wins, m.Losses, m.WinRate)
	fmt.Fprintf(&b, "Avg gain:     $%.2f   Avg loss: $%.2f\n", m.AvgGain, m.AvgLoss)
	fmt.Fprintf(&b, "Largest win:  $%.2f   Largest loss: $%.2f\n", m.LargestWin, m.LargestLoss)
	if math.IsInf(m.ProfitFactor, 1) {
		fmt.Fprintf(&b, "Profit factor: inf\n")
	} else {
		fmt.Fprintf(&b, "Profit factor: %.2f\n", m.ProfitFactor)
	}
	fmt.Fprintf(&b, "Sharpe:       %.2f\n", m.SharpeRatio)
	fmt.Fprintf(&b, "Max drawdown: %.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(&b, "Avg hold:     %.1f days\n", m.AvgHoldDays)

	return b.String()
}
