package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zurychhh/alpha-machine-sub000/internal/config"
	"github.com/zurychhh/alpha-machine-sub000/internal/market"
)

// Factor names emitted by the rule-based agent
const (
	FactorRSI         = "rsi"
	FactorMomentum7D  = "momentum_7d"
	FactorMomentum30D = "momentum_30d"
	FactorVolumeTrend = "volume_trend"
	FactorSentiment   = "sentiment"
)

// RSI thresholds
const (
	rsiOversold   = 30.0
	rsiOverbought = 70.0
	rsiNeutralLo  = 45.0
	rsiNeutralHi  = 55.0
)

// DefaultFactorWeights is the baseline weighting of the rule-based factors
func DefaultFactorWeights() map[string]float64 {
	return map[string]float64{
		FactorRSI:         0.25,
		FactorMomentum7D:  0.20,
		FactorMomentum30D: 0.15,
		FactorVolumeTrend: 0.10,
		FactorSentiment:   0.30,
	}
}

// RuleBasedAgent scores a ticker from deterministic technical and sentiment
// rules. It makes no external calls and is always available, so it anchors
// the ensemble when the LLM agents degrade.
type RuleBasedAgent struct {
	name          string
	factorWeights map[string]float64
	logger        zerolog.Logger

	mu     sync.RWMutex
	weight float64
}

// NewRuleBasedAgent creates a rule-based agent. factorWeights may be nil to
// use the defaults.
func NewRuleBasedAgent(name string, weight float64, factorWeights map[string]float64) *RuleBasedAgent {
	if factorWeights == nil {
		factorWeights = DefaultFactorWeights()
	}
	return &RuleBasedAgent{
		name:          name,
		weight:        weight,
		factorWeights: factorWeights,
		logger:        config.NewAgentLogger(name),
	}
}

// Name returns the agent identifier
func (a *RuleBasedAgent) Name() string { return a.name }

// Weight returns the agent's current voting weight
func (a *RuleBasedAgent) Weight() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.weight
}

// SetWeight updates the agent's voting weight
func (a *RuleBasedAgent) SetWeight(w float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.weight = w
}

// Analyze produces an opinion from the weighted factor scores
func (a *RuleBasedAgent) Analyze(ctx context.Context, input Input) Opinion {
	start := time.Now()

	if !ValidateInput(input) {
		recordFallback(a.name, "invalid_input")
		return NeutralOpinion(a.name, input.Ticker, "Invalid input data")
	}

	var indicators *market.Indicators
	if input.Market != nil {
		indicators = input.Market.Indicators
	}

	factors := map[string]float64{}
	var reasoningParts []string

	addFactor := func(name string, score float64, reason string) {
		factors[name] = score
		if reason != "" {
			reasoningParts = append(reasoningParts, reason)
		}
	}

	if indicators != nil {
		score, reason := scoreRSI(indicators.RSI)
		addFactor(FactorRSI, score, reason)

		score, reason = scoreMomentum(indicators.PriceChange7D, 7)
		addFactor(FactorMomentum7D, score, reason)

		score, _ = scoreMomentum(indicators.PriceChange30D, 30)
		addFactor(FactorMomentum30D, score, "")

		score, reason = scoreVolumeTrend(indicators.VolumeTrend)
		addFactor(FactorVolumeTrend, score, reason)
	} else {
		factors[FactorRSI] = 0
		factors[FactorMomentum7D] = 0
		factors[FactorMomentum30D] = 0
		factors[FactorVolumeTrend] = 0
	}

	sentScore, sentReason := scoreSentiment(input.Sentiment)
	addFactor(FactorSentiment, sentScore, sentReason)

	totalScore := 0.0
	for name, score := range factors {
		totalScore += score * a.factorWeights[name]
	}

	confidence := factorConfidence(factors)

	reasoning := "Mixed signals"
	if len(reasoningParts) > 0 {
		reasoning = strings.Join(reasoningParts, "; ")
	}

	opinion := OpinionFromScore(a.name, input.Ticker, totalScore, confidence, reasoning, factors)

	a.logger.Debug().
		Str("ticker", input.Ticker).
		Float64("score", opinion.RawScore).
		Float64("confidence", opinion.Confidence).
		Str("signal", string(opinion.Signal)).
		Msg("Rule-based analysis complete")
	recordAnalysis(a.name, opinion.Signal, time.Since(start).Seconds())

	return opinion
}

// scoreRSI maps RSI to [-1, 1]. Oversold is a bullish contrarian signal.
func scoreRSI(rsi *float64) (float64, string) {
	if rsi == nil {
		return 0.0, ""
	}
	v := *rsi

	switch {
	case v <= rsiOversold:
		score := 0.8 + (rsiOversold-v)/rsiOversold*0.2
		return math.Min(score, 1.0), fmt.Sprintf("RSI %.1f indicates oversold conditions", v)

	case v >= rsiOverbought:
		score := -0.8 - (v-rsiOverbought)/(100-rsiOverbought)*0.2
		return math.Max(score, -1.0), fmt.Sprintf("RSI %.1f indicates overbought conditions", v)

	case v >= rsiNeutralLo && v <= rsiNeutralHi:
		return 0.0, ""

	case v < rsiNeutralLo:
		normalized := (rsiNeutralLo - v) / (rsiNeutralLo - rsiOversold)
		return normalized * 0.5, fmt.Sprintf("RSI %.1f suggests potential upside", v)

	default: // v > rsiNeutralHi
		normalized := (v - rsiNeutralHi) / (rsiOverbought - rsiNeutralHi)
		return -normalized * 0.5, fmt.Sprintf("RSI %.1f suggests potential resistance", v)
	}
}

// scoreMomentum maps a price change percentage to [-0.8, 0.8], with tighter
// thresholds for the shorter window.
func scoreMomentum(priceChange *float64, days int) (float64, string) {
	if priceChange == nil {
		return 0.0, ""
	}
	change := *priceChange

	strongThreshold := 15.0
	moderateThreshold := 5.0
	if days <= 7 {
		strongThreshold = 8.0
		moderateThreshold = 3.0
	}

	absChange := math.Abs(change)
	direction := 1.0
	if change < 0 {
		direction = -1.0
	}

	switch {
	case absChange >= strongThreshold:
		trend := "strong bullish"
		if direction < 0 {
			trend = "strong bearish"
		}
		return direction * 0.8, fmt.Sprintf("%d-day momentum %+.1f%% shows %s trend", days, change, trend)
	case absChange >= moderateThreshold:
		trend := "bullish"
		if direction < 0 {
			trend = "bearish"
		}
		return direction * 0.4, fmt.Sprintf("%d-day momentum %+.1f%% indicates %s direction", days, change, trend)
	default:
		return direction * 0.1, ""
	}
}

func scoreVolumeTrend(volumeTrend string) (float64, string) {
	switch strings.ToLower(volumeTrend) {
	case market.VolumeTrendIncreasing:
		return 0.3, "Volume increasing supports momentum"
	case market.VolumeTrendDecreasing:
		return -0.2, "Declining volume suggests weakening trend"
	default:
		return 0.0, ""
	}
}

// scoreSentiment weighs the combined score by mention volume; 100 mentions
// earns full weight, and no mentions discounts to half.
func scoreSentiment(sentiment *market.Sentiment) (float64, string) {
	if sentiment == nil {
		return 0.0, ""
	}

	mentionWeight := 0.5
	if sentiment.TotalMentions > 0 {
		mentionWeight = math.Min(float64(sentiment.TotalMentions)/100, 1.0)
	}

	score := sentiment.Combined * mentionWeight

	if math.Abs(score) > 0.3 {
		direction := "bullish"
		if score < 0 {
			direction = "bearish"
		}
		return score, fmt.Sprintf("Sentiment (%s) with %d mentions is %s",
			sentiment.Label, sentiment.TotalMentions, direction)
	}
	return score, ""
}

// factorConfidence combines data availability (40%) with directional
// agreement among the non-zero factors (60%).
func factorConfidence(factors map[string]float64) float64 {
	var nonZero []float64
	for _, f := range factors {
		if math.Abs(f) > 0.1 {
			nonZero = append(nonZero, f)
		}
	}

	if len(nonZero) == 0 {
		return 0.0
	}

	dataConfidence := float64(len(nonZero)) / float64(len(factors)) * 0.4

	positive := 0
	for _, f := range nonZero {
		if f > 0 {
			positive++
		}
	}
	negative := len(nonZero) - positive

	agreementRatio := float64(max(positive, negative)) / float64(len(nonZero))
	return math.Min(dataConfidence+agreementRatio*0.6, 1.0)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
