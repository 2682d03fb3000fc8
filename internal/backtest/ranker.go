// Package backtest replays historical BUY signals against daily bars to
// measure how the ensemble would have performed under each allocation mode.
package backtest

import (
	"math"
	"sort"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

// Fallbacks used when a signal was stored without price levels
const (
	fallbackExpectedReturn = 0.10
	fallbackRiskFactor     = 1.5
)

// RankedSignal is one signal with its composite quality score
type RankedSignal struct {
	Signal         db.StoredSignal
	Score          float64
	ExpectedReturn float64
	RiskFactor     float64
	Rank           int
}

// expectedReturn is the fractional move from entry to target
func expectedReturn(sig db.StoredSignal) float64 {
	if sig.EntryPrice > 0 && sig.TargetPrice > 0 {
		return (sig.TargetPrice - sig.EntryPrice) / sig.EntryPrice
	}
	return fallbackExpectedReturn
}

// riskFactor scales with stop-loss distance: 10% downside = 1.0,
// 20% = 2.0, floored at 1.0 so tight stops never inflate the score.
func riskFactor(sig db.StoredSignal) float64 {
	if sig.EntryPrice > 0 && sig.StopLoss > 0 {
		downside := (sig.EntryPrice - sig.StopLoss) / sig.EntryPrice
		return math.Max(1.0, downside*10)
	}
	return fallbackRiskFactor
}

// Rank scores BUY signals by confidence-weighted expected return per unit
// of risk and returns them best first, rank starting at 1.
func Rank(signals []db.StoredSignal) []RankedSignal {
	ranked := make([]RankedSignal, 0, len(signals))
	for _, sig := range signals {
		if sig.SignalType != db.SignalTypeBuy {
			continue
		}

		er := expectedReturn(sig)
		rf := riskFactor(sig)
		ranked = append(ranked, RankedSignal{
			Signal:         sig,
			Score:          float64(sig.Confidence) / 5.0 * er / rf,
			ExpectedReturn: er,
			RiskFactor:     rf,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
