package ensemble

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zurychhh/alpha-machine-sub000/internal/agents"
)

// PositionSize is the recommended exposure class for a consensus signal
type PositionSize string

const (
	SizeNone   PositionSize = "NONE"
	SizeSmall  PositionSize = "SMALL"
	SizeMedium PositionSize = "MEDIUM"
	SizeNormal PositionSize = "NORMAL"
	SizeLarge  PositionSize = "LARGE"
)

// Consensus signal classification cutpoints. Tighter than the per-agent map
// because weighted aggregation has already dampened extremes.
const (
	consensusStrongCutoff = 0.5
	consensusActionCutoff = 0.1
)

// Position sizing thresholds
const (
	lowConfidenceThreshold    = 0.3
	mediumConfidenceThreshold = 0.5
	highConfidenceThreshold   = 0.7
	minAgreementForNormal     = 0.6
	minAgreementForLarge      = 0.8
)

// ConsensusSignal is the ensemble's aggregated recommendation for one ticker
type ConsensusSignal struct {
	Ticker         string             `json:"ticker"`
	Signal         agents.SignalClass `json:"signal"`
	Confidence     float64            `json:"confidence"`
	RawScore       float64            `json:"raw_score"`
	PositionSize   PositionSize       `json:"position_size"`
	AgreementRatio float64            `json:"agreement_ratio"`
	Opinions       []agents.Opinion   `json:"opinions"`
	Reasoning      string             `json:"reasoning"`
	Timestamp      time.Time          `json:"timestamp"`
}

// neutralConsensus is returned whenever aggregation cannot run
func neutralConsensus(ticker, reason string) ConsensusSignal {
	return ConsensusSignal{
		Ticker:         ticker,
		Signal:         agents.SignalHold,
		Confidence:     0.0,
		RawScore:       0.0,
		PositionSize:   SizeNone,
		AgreementRatio: 0.0,
		Opinions:       []agents.Opinion{},
		Reasoning:      reason,
		Timestamp:      time.Now(),
	}
}

// weightedScore averages raw scores weighted by agent importance scaled by
// each opinion's own confidence. Returns the total weight so callers can
// detect a degenerate zero-weight aggregation.
func weightedScore(opinions []agents.Opinion, weights []float64) (float64, float64) {
	totalScore := 0.0
	totalWeight := 0.0

	for i, op := range opinions {
		effective := weights[i] * (0.5 + 0.5*op.Confidence)
		totalScore += op.RawScore * effective
		totalWeight += effective
	}

	if totalWeight == 0 {
		return 0.0, 0.0
	}
	return totalScore / totalWeight, totalWeight
}

// agreementRatio is the fraction of opinions in the plurality direction,
// where direction is bullish above +0.1, bearish below -0.1, else neutral.
func agreementRatio(opinions []agents.Opinion) float64 {
	if len(opinions) <= 1 {
		return 1.0
	}

	bullish, bearish := 0, 0
	for _, op := range opinions {
		switch {
		case op.RawScore > consensusActionCutoff:
			bullish++
		case op.RawScore < -consensusActionCutoff:
			bearish++
		}
	}
	neutral := len(opinions) - bullish - bearish

	maxDirection := bullish
	if bearish > maxDirection {
		maxDirection = bearish
	}
	if neutral > maxDirection {
		maxDirection = neutral
	}
	return float64(maxDirection) / float64(len(opinions))
}

// consensusConfidence blends average agent confidence (50%), agreement (30%),
// and agent count with diminishing returns after three agents (20%).
func consensusConfidence(opinions []agents.Opinion, agreement float64) float64 {
	if len(opinions) == 0 {
		return 0.0
	}

	avgConfidence := 0.0
	for _, op := range opinions {
		avgConfidence += op.Confidence
	}
	avgConfidence /= float64(len(opinions))

	countFactor := math.Min(float64(len(opinions))/3.0, 1.0)

	return math.Min(avgConfidence*0.5+agreement*0.3+countFactor*0.2, 1.0)
}

func classifyConsensus(score float64) agents.SignalClass {
	switch {
	case score >= consensusStrongCutoff:
		return agents.SignalStrongBuy
	case score >= consensusActionCutoff:
		return agents.SignalBuy
	case score >= -consensusActionCutoff:
		return agents.SignalHold
	case score >= -consensusStrongCutoff:
		return agents.SignalSell
	default:
		return agents.SignalStrongSell
	}
}

// positionSize derives the exposure class from the sizing cascade; first
// match wins.
func positionSize(confidence, agreement, scoreStrength float64) PositionSize {
	switch {
	case scoreStrength < consensusActionCutoff || confidence < lowConfidenceThreshold:
		return SizeNone
	case confidence >= highConfidenceThreshold && agreement >= minAgreementForLarge && scoreStrength >= consensusStrongCutoff:
		return SizeLarge
	case confidence >= mediumConfidenceThreshold && agreement >= minAgreementForNormal:
		return SizeNormal
	case confidence >= lowConfidenceThreshold:
		return SizeMedium
	default:
		return SizeSmall
	}
}

// summarizeReasoning builds a one-line digest of the opinion set
func summarizeReasoning(opinions []agents.Opinion, agreement float64) string {
	if len(opinions) == 0 {
		return "No agent opinions available"
	}

	bullish, bearish := 0, 0
	for _, op := range opinions {
		switch {
		case op.RawScore > consensusActionCutoff:
			bullish++
		case op.RawScore < -consensusActionCutoff:
			bearish++
		}
	}

	var parts []string
	switch {
	case agreement >= 0.8:
		parts = append(parts, fmt.Sprintf("Strong consensus (%.0f%% agreement)", agreement*100))
	case agreement >= 0.6:
		parts = append(parts, fmt.Sprintf("Moderate consensus (%.0f%% agreement)", agreement*100))
	default:
		parts = append(parts, fmt.Sprintf("Mixed signals (%.0f%% agreement)", agreement*100))
	}

	if bullish > 0 {
		parts = append(parts, fmt.Sprintf("%d bullish", bullish))
	}
	if bearish > 0 {
		parts = append(parts, fmt.Sprintf("%d bearish", bearish))
	}

	top := opinions[0]
	for _, op := range opinions[1:] {
		if op.Confidence > top.Confidence {
			top = op
		}
	}
	if top.Reasoning != "" {
		parts = append(parts, "Key: "+truncate(top.Reasoning, 100))
	}

	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
