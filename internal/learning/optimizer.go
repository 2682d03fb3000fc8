package learning

import (
	"math"
	"sort"
)

// Weight bounds and the per-day relative change cap
const (
	weightMinBound   = 0.30
	weightMaxBound   = 2.00
	dailyChangeCap   = 0.10
	smoothingOld     = 0.9
	smoothingPerf    = 0.1
	perfToWeightMult = 2.0 // 50% win rate maps to weight 1.0
)

// proposeWeight maps blended win rates onto the weight scale, smooths
// against the old weight, clamps to bounds, and caps the per-day change.
// changeCap is relative to the old weight (0.10 = ten percent per day).
func proposeWeight(rec AgentRecord, tfWeights map[int]float64, changeCap float64) float64 {
	perf := 0.0
	for w, tw := range tfWeights {
		perf += tw * rec.Windows[w].WinRate / 100
	}

	perfWeight := perfToWeightMult * perf
	proposed := smoothingOld*rec.Old + smoothingPerf*perfWeight
	proposed = clamp(proposed, weightMinBound, weightMaxBound)

	maxDelta := changeCap * rec.Old
	if proposed > rec.Old+maxDelta {
		proposed = rec.Old + maxDelta
	}
	if proposed < rec.Old-maxDelta {
		proposed = rec.Old - maxDelta
	}
	return proposed
}

// normalizeWeights rescales the vector so its sum equals the agent count,
// then re-clamps to bounds. Frozen agents hold their weight exactly; the
// rescale is spread over the unfrozen agents only.
func normalizeWeights(proposed map[string]float64, frozen map[string]bool) map[string]float64 {
	n := float64(len(proposed))
	if n == 0 {
		return proposed
	}

	frozenSum, freeSum := 0.0, 0.0
	for name, w := range proposed {
		if frozen[name] {
			frozenSum += w
		} else {
			freeSum += w
		}
	}

	normalized := make(map[string]float64, len(proposed))
	target := n - frozenSum
	if freeSum == 0 || target <= 0 {
		for name, w := range proposed {
			normalized[name] = w
		}
		return normalized
	}

	scale := target / freeSum
	for name, w := range proposed {
		if frozen[name] {
			normalized[name] = w
			continue
		}
		normalized[name] = clamp(w*scale, weightMinBound, weightMaxBound)
	}
	return normalized
}

// sortedAgentNames gives a stable iteration order for logging and events
func sortedAgentNames(weights map[string]float64) []string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
