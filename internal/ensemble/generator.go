package ensemble

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zurychhh/alpha-machine-sub000/internal/agents"
	"github.com/zurychhh/alpha-machine-sub000/internal/config"
)

var (
	metricsOnce     sync.Once
	consensusTotal  *prometheus.CounterVec
	consensusAgents prometheus.Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		consensusTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_signals_total",
				Help: "Consensus signals produced by signal class and position size",
			},
			[]string{"signal", "position_size"},
		)
		consensusAgents = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "consensus_generation_duration_seconds",
				Help:    "Wall time of one consensus generation including agent fan-out",
				Buckets: prometheus.DefBuckets,
			},
		)
	})
}

// Generator fans a ticker out to every registered agent in parallel and
// reconciles the opinions into one ConsensusSignal. Agents that fail or miss
// the per-agent deadline contribute a neutral opinion; generation never
// aborts on agent failure.
type Generator struct {
	mu       sync.RWMutex
	agents   []agents.Agent
	deadline time.Duration
	logger   zerolog.Logger
}

// NewGenerator creates a consensus generator. deadline bounds each agent's
// analysis; zero means 30 seconds.
func NewGenerator(deadline time.Duration) *Generator {
	if deadline == 0 {
		deadline = 30 * time.Second
	}
	initMetrics()
	return &Generator{
		deadline: deadline,
		logger:   config.NewLogger("ensemble"),
	}
}

// Register adds an agent to the ensemble
func (g *Generator) Register(agent agents.Agent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agents = append(g.agents, agent)
	g.logger.Info().
		Str("agent", agent.Name()).
		Float64("weight", agent.Weight()).
		Msg("Registered agent")
}

// AgentNames lists registered agents in registration order
func (g *Generator) AgentNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, len(g.agents))
	for i, a := range g.agents {
		names[i] = a.Name()
	}
	return names
}

// Weights returns the current weight per agent
func (g *Generator) Weights() map[string]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	weights := make(map[string]float64, len(g.agents))
	for _, a := range g.agents {
		weights[a.Name()] = a.Weight()
	}
	return weights
}

// SetWeight updates one agent's voting weight. Returns false when the agent
// is not registered.
func (g *Generator) SetWeight(name string, weight float64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, a := range g.agents {
		if a.Name() == name {
			a.SetWeight(weight)
			return true
		}
	}
	return false
}

// GenerateSignal runs every agent against the input and aggregates the
// opinions into a consensus.
func (g *Generator) GenerateSignal(ctx context.Context, input agents.Input) ConsensusSignal {
	start := time.Now()

	g.mu.RLock()
	registered := make([]agents.Agent, len(g.agents))
	copy(registered, g.agents)
	g.mu.RUnlock()

	if len(registered) == 0 {
		return neutralConsensus(input.Ticker, "No agents registered")
	}
	if !agents.ValidateInput(input) {
		return neutralConsensus(input.Ticker, "Invalid input data")
	}

	opinions := make([]agents.Opinion, len(registered))
	weights := make([]float64, len(registered))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, agent := range registered {
		eg.Go(func() error {
			weights[i] = agent.Weight()
			opinions[i] = g.analyzeWithDeadline(egCtx, agent, input)
			return nil
		})
	}
	eg.Wait()

	score, totalWeight := weightedScore(opinions, weights)
	if totalWeight == 0 {
		return neutralConsensus(input.Ticker, "Zero total agent weight")
	}

	agreement := agreementRatio(opinions)
	confidence := consensusConfidence(opinions, agreement)
	signal := classifyConsensus(score)
	size := positionSize(confidence, agreement, abs(score))

	consensus := ConsensusSignal{
		Ticker:         input.Ticker,
		Signal:         signal,
		Confidence:     confidence,
		RawScore:       score,
		PositionSize:   size,
		AgreementRatio: agreement,
		Opinions:       opinions,
		Reasoning:      summarizeReasoning(opinions, agreement),
		Timestamp:      time.Now(),
	}

	g.logger.Info().
		Str("ticker", input.Ticker).
		Str("signal", string(signal)).
		Float64("score", score).
		Float64("confidence", confidence).
		Float64("agreement", agreement).
		Str("position_size", string(size)).
		Msg("Consensus generated")

	consensusTotal.WithLabelValues(string(signal), string(size)).Inc()
	consensusAgents.Observe(time.Since(start).Seconds())

	return consensus
}

// analyzeWithDeadline bounds one agent's analysis. An agent that has not
// returned by the deadline is treated as having produced a neutral opinion;
// its goroutine unwinds on its own once it observes the cancelled context.
func (g *Generator) analyzeWithDeadline(ctx context.Context, agent agents.Agent, input agents.Input) agents.Opinion {
	agentCtx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	done := make(chan agents.Opinion, 1)
	go func() {
		done <- agent.Analyze(agentCtx, input)
	}()

	select {
	case op := <-done:
		return op
	case <-agentCtx.Done():
		g.logger.Warn().
			Str("agent", agent.Name()).
			Str("ticker", input.Ticker).
			Dur("deadline", g.deadline).
			Msg("Agent missed analysis deadline")
		return agents.NeutralOpinion(agent.Name(), input.Ticker, "Analysis deadline exceeded")
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
