package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zurychhh/alpha-machine-sub000/internal/config"
	"github.com/zurychhh/alpha-machine-sub000/internal/llm"
	"github.com/zurychhh/alpha-machine-sub000/internal/reliability"
)

// Persona differentiates the LLM-backed agents. The framework treats every
// persona identically; only the role prompt and factor taxonomy vary.
type Persona struct {
	Name         string
	Model        string
	SystemPrompt string
	ReasoningTag string // prefixed to the parsed reasoning, e.g. "[Contrarian]"
}

// llmReply is the strict JSON shape every LLM agent demands
type llmReply struct {
	Signal     string             `json:"signal"`
	Confidence float64            `json:"confidence"`
	Score      float64            `json:"score"`
	Reasoning  string             `json:"reasoning"`
	Factors    map[string]float64 `json:"factors"`
}

const llmReplyFormat = `IMPORTANT: You must respond with ONLY valid JSON in this exact format:
{
    "signal": "STRONG_BUY" | "BUY" | "HOLD" | "SELL" | "STRONG_SELL",
    "confidence": 0.0 to 1.0,
    "score": -1.0 to 1.0,
    "reasoning": "Your analysis in 2-3 sentences",
    "factors": { "<factor_name>": -1.0 to 1.0 }
}

Score interpretation:
- score > 0.6: STRONG_BUY
- score 0.2 to 0.6: BUY
- score -0.2 to 0.2: HOLD
- score -0.6 to -0.2: SELL
- score < -0.6: STRONG_SELL

Be concise and data-driven. Base your analysis on the provided data.`

// ContrarianPersona challenges conventional market wisdom
func ContrarianPersona(model string) Persona {
	return Persona{
		Name:         "ContrarianAgent",
		Model:        model,
		ReasoningTag: "[Contrarian]",
		SystemPrompt: `You are a contrarian stock analyst with a skeptical but balanced approach.

Your role is to challenge conventional market wisdom by:
1. Questioning overly bullish sentiment - look for hidden risks, overcrowded trades
2. Finding opportunities in beaten-down stocks - look for overreaction, value
3. Identifying disconnects between price action and fundamentals
4. Spotting potential mean reversion opportunities

Factor names to use: sentiment_disconnect, crowding_risk, mean_reversion, hidden_value.

` + llmReplyFormat,
	}
}

// GrowthPersona looks for durable growth and momentum quality
func GrowthPersona(model string) Persona {
	return Persona{
		Name:         "GrowthAgent",
		Model:        model,
		ReasoningTag: "[Growth]",
		SystemPrompt: `You are a growth-focused stock analyst.

Your role is to evaluate growth durability by:
1. Assessing whether momentum is backed by improving fundamentals
2. Judging the quality of the trend - steady accumulation vs speculative spikes
3. Weighing valuation risk against growth runway
4. Identifying early-stage breakouts with institutional support

Factor names to use: growth_quality, momentum_durability, valuation_risk, breakout_strength.

` + llmReplyFormat,
	}
}

// LLMAgent wraps an external model endpoint behind the agent contract. All
// failures - open breaker, exhausted retries, malformed replies - degrade to
// a neutral opinion.
type LLMAgent struct {
	persona  Persona
	client   *llm.Client
	breakers *reliability.BreakerRegistry
	retryCfg reliability.RetryConfig
	logger   zerolog.Logger

	mu     sync.RWMutex
	weight float64
}

// NewLLMAgent creates an LLM-backed agent for the given persona
func NewLLMAgent(persona Persona, weight float64, client *llm.Client, breakers *reliability.BreakerRegistry) *LLMAgent {
	return &LLMAgent{
		persona:  persona,
		client:   client,
		breakers: breakers,
		retryCfg: reliability.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     10 * time.Second,
			BackoffFactor:  2.0,
		},
		weight: weight,
		logger: config.NewAgentLogger(persona.Name),
	}
}

// Name returns the agent identifier
func (a *LLMAgent) Name() string { return a.persona.Name }

// Weight returns the agent's current voting weight
func (a *LLMAgent) Weight() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.weight
}

// SetWeight updates the agent's voting weight
func (a *LLMAgent) SetWeight(w float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.weight = w
}

// Analyze builds a prompt packet, calls the model through the reliability
// layer, and parses the strict JSON reply into an opinion.
func (a *LLMAgent) Analyze(ctx context.Context, input Input) Opinion {
	start := time.Now()

	if !ValidateInput(input) {
		recordFallback(a.persona.Name, "invalid_input")
		return NeutralOpinion(a.persona.Name, input.Ticker, "Invalid input data")
	}

	prompt := a.buildPrompt(input)

	var content string
	err := reliability.WithRetry(ctx, a.retryCfg, func() error {
		result, err := a.breakers.Execute(a.breakerTag(), func() (interface{}, error) {
			return a.complete(ctx, prompt)
		})
		if err != nil {
			return err
		}
		content = result.(string)
		return nil
	})
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("ticker", input.Ticker).
			Msg("LLM analysis failed, returning neutral opinion")
		recordFallback(a.persona.Name, fallbackReason(err))
		return NeutralOpinion(a.persona.Name, input.Ticker, "Analysis unavailable: "+truncateErr(err))
	}

	opinion, err := a.parseReply(input.Ticker, content)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("ticker", input.Ticker).
			Str("raw_prefix", truncateStr(content, 200)).
			Msg("Failed to parse LLM reply")
		recordFallback(a.persona.Name, "malformed_reply")
		return NeutralOpinion(a.persona.Name, input.Ticker, "Failed to parse model response")
	}

	recordAnalysis(a.persona.Name, opinion.Signal, time.Since(start).Seconds())
	return opinion
}

func (a *LLMAgent) breakerTag() string {
	return "llm:" + a.persona.Name
}

func (a *LLMAgent) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CompleteWithModel(ctx, a.persona.Model, []llm.ChatMessage{
		{Role: "system", Content: a.persona.SystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in reply", reliability.ErrMalformedReply)
	}
	return resp.Choices[0].Message.Content, nil
}

// buildPrompt assembles the data packet the model analyzes
func (a *LLMAgent) buildPrompt(input Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze %s.\n\n=== CURRENT DATA ===\n", input.Ticker)
	fmt.Fprintf(&b, "Ticker: %s\n", input.Ticker)
	if input.Market.Quote.CurrentPrice != nil {
		fmt.Fprintf(&b, "Current Price: $%.2f\n", *input.Market.Quote.CurrentPrice)
	}

	if ind := input.Market.Indicators; ind != nil {
		b.WriteString("\n=== TECHNICAL INDICATORS ===\n")
		if ind.RSI != nil {
			fmt.Fprintf(&b, "RSI: %.1f\n", *ind.RSI)
		}
		if ind.PriceChange7D != nil {
			fmt.Fprintf(&b, "7-Day Change: %+.2f%%\n", *ind.PriceChange7D)
		}
		if ind.PriceChange30D != nil {
			fmt.Fprintf(&b, "30-Day Change: %+.2f%%\n", *ind.PriceChange30D)
		}
		if ind.VolumeTrend != "" {
			fmt.Fprintf(&b, "Volume Trend: %s\n", ind.VolumeTrend)
		}
		if ind.SMA50 != nil {
			fmt.Fprintf(&b, "50-Day SMA: $%.2f\n", *ind.SMA50)
		}
		if ind.SMA200 != nil {
			fmt.Fprintf(&b, "200-Day SMA: $%.2f\n", *ind.SMA200)
		}
	}

	if s := input.Sentiment; s != nil {
		b.WriteString("\n=== SENTIMENT DATA ===\n")
		fmt.Fprintf(&b, "Combined Sentiment: %.3f\n", s.Combined)
		fmt.Fprintf(&b, "Sentiment Label: %s\n", s.Label)
		fmt.Fprintf(&b, "Total Mentions: %d\n", s.TotalMentions)
	}

	if len(input.History) > 0 {
		b.WriteString("\n=== HISTORICAL CONTEXT ===\n")
		fmt.Fprintf(&b, "Data points: %d days\n", len(input.History))
		first := input.History[len(input.History)-1]
		last := input.History[0]
		if first.Close > 0 {
			change := (last.Close - first.Close) / first.Close * 100
			fmt.Fprintf(&b, "Period Change: %+.2f%%\n", change)
		}
	}

	b.WriteString("\nRespond with ONLY the JSON object as specified.\n")
	return b.String()
}

func (a *LLMAgent) parseReply(ticker, content string) (Opinion, error) {
	var reply llmReply
	if err := a.client.ParseJSONResponse(content, &reply); err != nil {
		return Opinion{}, err
	}

	reasoning := reply.Reasoning
	if reasoning == "" {
		reasoning = "No reasoning provided"
	}
	if a.persona.ReasoningTag != "" {
		reasoning = a.persona.ReasoningTag + " " + reasoning
	}

	opinion := OpinionFromScore(a.persona.Name, ticker, reply.Score, reply.Confidence, reasoning, reply.Factors)

	// The model's own class wins if it is a valid enum value; the score
	// mapping covers replies that omit or garble it.
	if reply.Signal != "" {
		opinion.Signal = ParseSignalClass(reply.Signal)
	}
	return opinion, nil
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, reliability.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, reliability.ErrMalformedReply):
		return "malformed_reply"
	default:
		return "retries_exhausted"
	}
}

func truncateErr(err error) string {
	return truncateStr(err.Error(), 100)
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
