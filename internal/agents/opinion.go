package agents

import (
	"time"
)

// SignalClass is the five-step recommendation scale
type SignalClass string

const (
	SignalStrongBuy  SignalClass = "STRONG_BUY"
	SignalBuy        SignalClass = "BUY"
	SignalHold       SignalClass = "HOLD"
	SignalSell       SignalClass = "SELL"
	SignalStrongSell SignalClass = "STRONG_SELL"
)

// Cutpoints mapping a raw score to a signal class
const (
	strongBuyCutoff  = 0.6
	buyCutoff        = 0.2
	sellCutoff       = -0.2
	strongSellCutoff = -0.6
)

// Opinion is one agent's standardized output for one ticker
type Opinion struct {
	AgentName  string             `json:"agent_name"`
	Ticker     string             `json:"ticker"`
	Signal     SignalClass        `json:"signal"`
	Confidence float64            `json:"confidence"` // [0, 1]
	RawScore   float64            `json:"raw_score"`  // [-1, 1], positive = bullish
	Reasoning  string             `json:"reasoning"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// OpinionFromScore builds an Opinion from a numeric score, clamping the
// score to [-1, 1] and confidence to [0, 1], and deriving the signal class
// from the fixed cutpoints.
func OpinionFromScore(agentName, ticker string, score, confidence float64, reasoning string, factors map[string]float64) Opinion {
	score = clamp(score, -1.0, 1.0)
	confidence = clamp(confidence, 0.0, 1.0)

	if factors == nil {
		factors = map[string]float64{}
	}

	return Opinion{
		AgentName:  agentName,
		Ticker:     ticker,
		Signal:     classifyScore(score),
		Confidence: confidence,
		RawScore:   score,
		Reasoning:  reasoning,
		Factors:    factors,
		Timestamp:  time.Now(),
	}
}

// NeutralOpinion is the HOLD fallback emitted when analysis cannot run
func NeutralOpinion(agentName, ticker, reason string) Opinion {
	return Opinion{
		AgentName:  agentName,
		Ticker:     ticker,
		Signal:     SignalHold,
		Confidence: 0.0,
		RawScore:   0.0,
		Reasoning:  reason,
		Factors:    map[string]float64{},
		Timestamp:  time.Now(),
	}
}

func classifyScore(score float64) SignalClass {
	switch {
	case score >= strongBuyCutoff:
		return SignalStrongBuy
	case score >= buyCutoff:
		return SignalBuy
	case score >= sellCutoff:
		return SignalHold
	case score >= strongSellCutoff:
		return SignalSell
	default:
		return SignalStrongSell
	}
}

// ParseSignalClass coerces an external string to a SignalClass, defaulting
// unknown values to HOLD.
func ParseSignalClass(s string) SignalClass {
	switch SignalClass(s) {
	case SignalStrongBuy, SignalBuy, SignalHold, SignalSell, SignalStrongSell:
		return SignalClass(s)
	default:
		return SignalHold
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
