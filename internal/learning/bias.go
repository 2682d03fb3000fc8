package learning

import (
	"fmt"
	"math"
	"strings"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

// BiasType identifies a detector
type BiasType string

const (
	BiasOverfitting     BiasType = "OVERFITTING"
	BiasRecency         BiasType = "RECENCY"
	BiasThrashing       BiasType = "THRASHING"
	BiasRegimeBlindness BiasType = "REGIME_BLINDNESS"
)

// Severity of a bias finding
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// confidencePenalty maps severities onto the overall-confidence deduction
var confidencePenalty = map[Severity]float64{
	SeverityHigh:   0.30,
	SeverityMedium: 0.15,
	SeverityLow:    0.05,
}

// Overfitting detector thresholds
const (
	minTradesPerWindow  = 10
	maxCIHalfWidth      = 0.15
	overfitChangeCap    = 0.05
	thrashingStdevLimit = 0.30
	thrashingMaxFlips   = 3
)

// Finding is one detector's verdict
type Finding struct {
	Bias      BiasType
	Severity  Severity
	Agents    []string
	Reasoning string
}

// detectOverfitting flags agents whose sample sizes are too small for the
// win rate to mean anything: fewer than 10 trades in any window, or a 95%
// normal-approximation CI half-width above 0.15.
func detectOverfitting(records []AgentRecord) *Finding {
	var flagged []string
	var reasons []string

	for _, rec := range records {
		for _, w := range performanceWindows {
			perf := rec.Windows[w]
			if perf.Trades < minTradesPerWindow {
				flagged = append(flagged, rec.Name)
				reasons = append(reasons, fmt.Sprintf("%s: %d trades in %dd window", rec.Name, perf.Trades, w))
				break
			}
			p := perf.WinRate / 100
			halfWidth := 1.96 * math.Sqrt(p*(1-p)/float64(perf.Trades))
			if halfWidth > maxCIHalfWidth {
				flagged = append(flagged, rec.Name)
				reasons = append(reasons, fmt.Sprintf("%s: CI half-width %.2f in %dd window", rec.Name, halfWidth, w))
				break
			}
		}
	}

	if len(flagged) == 0 {
		return nil
	}

	severity := SeverityMedium
	if len(flagged) >= 2 {
		severity = SeverityHigh
	}
	return &Finding{
		Bias:      BiasOverfitting,
		Severity:  severity,
		Agents:    flagged,
		Reasoning: "Insufficient sample size: " + strings.Join(reasons, "; "),
	}
}

// detectRecency flags agents whose 7-day win rate has diverged from the
// 30-day rate by more than 20 points.
func detectRecency(records []AgentRecord) *Finding {
	var flagged []string
	var reasons []string

	for _, rec := range records {
		gap := math.Abs(rec.Windows[7].WinRate-rec.Windows[30].WinRate) / 100
		if gap > 0.20 {
			flagged = append(flagged, rec.Name)
			reasons = append(reasons, fmt.Sprintf("%s: 7d/30d win-rate gap %.0f%%", rec.Name, gap*100))
		}
	}

	if len(flagged) == 0 {
		return nil
	}

	severity := SeverityLow
	if len(flagged) >= 2 {
		severity = SeverityHigh
	}
	return &Finding{
		Bias:      BiasRecency,
		Severity:  severity,
		Agents:    flagged,
		Reasoning: "Short-window results dominating: " + strings.Join(reasons, "; "),
	}
}

// detectThrashing inspects the last up-to-7 per-day weight changes. A high
// change stdev or more than 3 sign reversals marks an unstable weight.
// history is newest-first, as WeightStore.History returns it.
func detectThrashing(histories map[string][]db.AgentWeight) *Finding {
	var flagged []string
	var reasons []string

	for name, history := range histories {
		changes := recentChanges(history, 7)
		if len(changes) < 2 {
			continue
		}

		if stdev(changes) > thrashingStdevLimit {
			flagged = append(flagged, name)
			reasons = append(reasons, fmt.Sprintf("%s: change stdev %.2f", name, stdev(changes)))
			continue
		}
		if flips := signReversals(changes); flips > thrashingMaxFlips {
			flagged = append(flagged, name)
			reasons = append(reasons, fmt.Sprintf("%s: %d sign reversals", name, flips))
		}
	}

	if len(flagged) == 0 {
		return nil
	}
	return &Finding{
		Bias:      BiasThrashing,
		Severity:  SeverityHigh,
		Agents:    flagged,
		Reasoning: "Unstable weight trajectory: " + strings.Join(reasons, "; "),
	}
}

// detectRegimeBlindness flags every agent when the market regime moved
// since the previous run.
func detectRegimeBlindness(current, previous MarketRegime, agents []string) *Finding {
	if previous == "" || current == previous {
		return nil
	}
	return &Finding{
		Bias:      BiasRegimeBlindness,
		Severity:  SeverityMedium,
		Agents:    agents,
		Reasoning: fmt.Sprintf("Market regime shifted %s -> %s", previous, current),
	}
}

// overallConfidence deducts a penalty per finding, floored at zero
func overallConfidence(findings []Finding) float64 {
	confidence := 1.0
	for _, f := range findings {
		confidence -= confidencePenalty[f.Severity]
	}
	return clamp(confidence, 0, 1)
}

// recentChanges extracts up to n day-over-day weight deltas, oldest first
func recentChanges(history []db.AgentWeight, n int) []float64 {
	// history is newest first; walk it backwards.
	var changes []float64
	for i := len(history) - 1; i > 0; i-- {
		changes = append(changes, history[i-1].Weight-history[i].Weight)
	}
	if len(changes) > n {
		changes = changes[len(changes)-n:]
	}
	return changes
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func signReversals(changes []float64) int {
	flips := 0
	for i := 1; i < len(changes); i++ {
		if changes[i]*changes[i-1] < 0 {
			flips++
		}
	}
	return flips
}
