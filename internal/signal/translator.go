// Package signal turns ensemble consensus output into persisted,
// risk-sized trading records and fans out notifications.
package signal

import (
	"math"

	"github.com/zurychhh/alpha-machine-sub000/internal/agents"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/ensemble"
)

// Risk parameters applied to every translated signal
const (
	stopLossPct     = 0.10
	targetPct       = 0.25
	maxPositionFrac = 0.10 // of portfolio value, before the size multiplier
)

// sizeMultiplier scales the base position by the consensus exposure class
func sizeMultiplier(size ensemble.PositionSize) float64 {
	switch size {
	case ensemble.SizeSmall:
		return 0.25
	case ensemble.SizeMedium:
		return 0.50
	case ensemble.SizeNormal:
		return 1.00
	case ensemble.SizeLarge:
		return 1.50
	default:
		return 0.0
	}
}

// coalesceSignalType maps the five-step class onto the persisted three-step
// form: STRONG_BUY becomes BUY, STRONG_SELL becomes SELL.
func coalesceSignalType(class agents.SignalClass) db.SignalType {
	switch class {
	case agents.SignalStrongBuy, agents.SignalBuy:
		return db.SignalTypeBuy
	case agents.SignalStrongSell, agents.SignalSell:
		return db.SignalTypeSell
	default:
		return db.SignalTypeHold
	}
}

// ConfidenceBucket maps confidence in [0, 1] to the stored 1..5 scale
func ConfidenceBucket(confidence float64) int {
	switch {
	case confidence >= 0.8:
		return 5
	case confidence >= 0.6:
		return 4
	case confidence >= 0.4:
		return 3
	case confidence >= 0.2:
		return 2
	default:
		return 1
	}
}

// Translate converts a consensus signal at a known entry price into a
// stored record with stop, target, and share count. Shares come out zero
// when the entry price is non-positive or the size class is NONE.
func Translate(consensus ensemble.ConsensusSignal, entryPrice, portfolioValue float64) db.StoredSignal {
	signalType := coalesceSignalType(consensus.Signal)

	stopLoss := entryPrice
	targetPrice := entryPrice
	switch signalType {
	case db.SignalTypeBuy:
		stopLoss = entryPrice * (1 - stopLossPct)
		targetPrice = entryPrice * (1 + targetPct)
	case db.SignalTypeSell:
		stopLoss = entryPrice * (1 + stopLossPct)
		targetPrice = entryPrice * (1 - targetPct)
	}

	shares := 0
	if entryPrice > 0 {
		mult := sizeMultiplier(consensus.PositionSize)
		shares = int(math.Floor(portfolioValue * maxPositionFrac * mult / entryPrice))
	}

	return db.StoredSignal{
		Ticker:      consensus.Ticker,
		SignalType:  signalType,
		Confidence:  ConfidenceBucket(consensus.Confidence),
		EntryPrice:  entryPrice,
		TargetPrice: targetPrice,
		StopLoss:    stopLoss,
		ShareCount:  shares,
		Status:      db.StatusPending,
		Notes:       consensus.Reasoning,
		CreatedAt:   consensus.Timestamp,
	}
}

// analysesFromOpinions projects the opinion set into per-agent analysis rows
func analysesFromOpinions(opinions []agents.Opinion) []db.AgentAnalysis {
	analyses := make([]db.AgentAnalysis, 0, len(opinions))
	for _, op := range opinions {
		analyses = append(analyses, db.AgentAnalysis{
			AgentName:      op.AgentName,
			Recommendation: string(op.Signal),
			Confidence:     ConfidenceBucket(op.Confidence),
			Reasoning:      op.Reasoning,
			Factors:        op.Factors,
		})
	}
	return analyses
}
