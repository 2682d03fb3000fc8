package agents

import (
	"context"
	"regexp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zurychhh/alpha-machine-sub000/internal/market"
)

// Input bundles everything an agent may consume for one ticker. Sentiment
// and History are optional.
type Input struct {
	Ticker    string
	Market    *market.Snapshot
	Sentiment *market.Sentiment
	History   []market.Bar
}

// Agent is the analysis contract. Implementations must be stateless between
// calls; the only per-instance state is identity, voting weight, and any
// private client or breaker. Analyze never returns an error: internal
// failures degrade to a neutral HOLD opinion.
type Agent interface {
	Name() string
	Weight() float64
	SetWeight(w float64)
	Analyze(ctx context.Context, input Input) Opinion
}

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// ValidateInput checks the minimum an agent needs. Returns false when the
// ticker is malformed or the market snapshot is absent.
func ValidateInput(input Input) bool {
	if !tickerPattern.MatchString(input.Ticker) {
		return false
	}
	if input.Market == nil {
		return false
	}
	return true
}

// Per-agent operational metrics, registered once
var (
	metricsOnce      sync.Once
	analysesTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	neutralFallbacks *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		analysesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_analyses_total",
				Help: "Total agent analyses by agent and resulting signal class",
			},
			[]string{"agent", "signal"},
		)
		analysisDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_analysis_duration_seconds",
				Help:    "Duration of agent analyses",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		)
		neutralFallbacks = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_neutral_fallbacks_total",
				Help: "Analyses that degraded to a neutral opinion",
			},
			[]string{"agent", "reason"},
		)
	})
}

func recordAnalysis(agent string, signal SignalClass, seconds float64) {
	initMetrics()
	analysesTotal.WithLabelValues(agent, string(signal)).Inc()
	analysisDuration.WithLabelValues(agent).Observe(seconds)
}

func recordFallback(agent, reason string) {
	initMetrics()
	neutralFallbacks.WithLabelValues(agent, reason).Inc()
}
