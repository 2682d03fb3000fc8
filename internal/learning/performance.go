// Package learning adjusts agent weights from realized outcomes, with bias
// detection and guardrails so a bad stretch of data cannot whipsaw the
// ensemble.
package learning

import (
	"context"
	"fmt"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

// Rolling windows, in days, used for every agent
var performanceWindows = []int{7, 30, 90}

// Default blend of the rolling windows when proposing weights
var defaultTimeframeWeights = map[int]float64{7: 0.4, 30: 0.4, 90: 0.2}

// recencyTimeframeWeights is the correction blend applied to agents flagged
// for recency bias: it shifts trust toward the longer windows.
var recencyTimeframeWeights = map[int]float64{7: 0.2, 30: 0.5, 90: 0.3}

// PerformanceSource computes rolling win statistics per agent and window
type PerformanceSource interface {
	AgentPerformance(ctx context.Context, agentName string, windowDays int) (db.AgentPerformance, error)
}

// AgentRecord bundles everything the optimizer needs for one agent
type AgentRecord struct {
	Name    string
	Old     float64 // current weight
	Windows map[int]db.AgentPerformance
}

// collectPerformance loads the rolling windows for every agent
func collectPerformance(ctx context.Context, source PerformanceSource, weights map[string]float64) ([]AgentRecord, error) {
	records := make([]AgentRecord, 0, len(weights))
	for name, old := range weights {
		rec := AgentRecord{Name: name, Old: old, Windows: make(map[int]db.AgentPerformance, len(performanceWindows))}
		for _, w := range performanceWindows {
			perf, err := source.AgentPerformance(ctx, name, w)
			if err != nil {
				return nil, fmt.Errorf("failed to load %d-day performance for %s: %w", w, name, err)
			}
			rec.Windows[w] = perf
		}
		records = append(records, rec)
	}
	return records, nil
}
