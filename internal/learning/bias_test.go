package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

func namedRecord(name string, trades int, wr7, wr30, wr90 float64) AgentRecord {
	return AgentRecord{
		Name: name,
		Old:  1.0,
		Windows: map[int]db.AgentPerformance{
			7:  {WindowDays: 7, WinRate: wr7, Trades: trades},
			30: {WindowDays: 30, WinRate: wr30, Trades: trades},
			90: {WindowDays: 90, WinRate: wr90, Trades: trades},
		},
	}
}

func TestDetectOverfittingSmallSample(t *testing.T) {
	records := []AgentRecord{
		namedRecord("thin", 4, 75, 70, 65),
		namedRecord("solid", 60, 55, 52, 50),
	}

	f := detectOverfitting(records)
	require.NotNil(t, f)
	assert.Equal(t, BiasOverfitting, f.Bias)
	assert.Equal(t, SeverityMedium, f.Severity)
	assert.Equal(t, []string{"thin"}, f.Agents)
}

func TestDetectOverfittingWideCI(t *testing.T) {
	// 12 trades at 50%: half-width 1.96*sqrt(0.25/12) = 0.283 > 0.15.
	records := []AgentRecord{namedRecord("noisy", 12, 50, 50, 50)}

	f := detectOverfitting(records)
	require.NotNil(t, f)
	assert.Contains(t, f.Reasoning, "CI half-width")
}

func TestDetectOverfittingTwoAgentsEscalates(t *testing.T) {
	records := []AgentRecord{
		namedRecord("a", 3, 60, 60, 60),
		namedRecord("b", 5, 40, 40, 40),
	}

	f := detectOverfitting(records)
	require.NotNil(t, f)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Len(t, f.Agents, 2)
}

func TestDetectOverfittingCleanSample(t *testing.T) {
	// 200 trades at 50%: half-width 0.069, comfortably inside the limit.
	records := []AgentRecord{namedRecord("solid", 200, 50, 52, 51)}
	assert.Nil(t, detectOverfitting(records))
}

func TestDetectRecency(t *testing.T) {
	records := []AgentRecord{
		namedRecord("hot", 200, 85, 50, 52), // 35-point gap
		namedRecord("steady", 200, 52, 50, 51),
	}

	f := detectRecency(records)
	require.NotNil(t, f)
	assert.Equal(t, BiasRecency, f.Bias)
	assert.Equal(t, SeverityLow, f.Severity)
	assert.Equal(t, []string{"hot"}, f.Agents)
}

func TestDetectRecencyTwoAgentsEscalates(t *testing.T) {
	records := []AgentRecord{
		namedRecord("hot", 200, 85, 50, 52),
		namedRecord("cold", 200, 20, 55, 52),
	}

	f := detectRecency(records)
	require.NotNil(t, f)
	assert.Equal(t, SeverityHigh, f.Severity)
}

func weightSeq(name string, weights ...float64) []db.AgentWeight {
	// Build newest-first history the way WeightStore.History returns it.
	rows := make([]db.AgentWeight, 0, len(weights))
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	for i := len(weights) - 1; i >= 0; i-- {
		rows = append(rows, db.AgentWeight{
			AgentName: name,
			Date:      day.AddDate(0, 0, -(len(weights) - 1 - i)),
			Weight:    weights[i],
		})
	}
	return rows
}

func TestDetectThrashingOnReversals(t *testing.T) {
	// Alternating up/down changes: 4 sign reversals.
	histories := map[string][]db.AgentWeight{
		"flappy": weightSeq("flappy", 1.0, 1.1, 1.0, 1.1, 1.0, 1.1),
		"calm":   weightSeq("calm", 1.0, 1.01, 1.02, 1.03, 1.04, 1.05),
	}

	f := detectThrashing(histories)
	require.NotNil(t, f)
	assert.Equal(t, BiasThrashing, f.Bias)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Equal(t, []string{"flappy"}, f.Agents)
}

func TestDetectThrashingOnStdev(t *testing.T) {
	histories := map[string][]db.AgentWeight{
		"wild": weightSeq("wild", 0.5, 1.5, 0.6, 1.8),
	}

	f := detectThrashing(histories)
	require.NotNil(t, f)
	assert.Contains(t, f.Reasoning, "stdev")
}

func TestDetectThrashingStableHistory(t *testing.T) {
	histories := map[string][]db.AgentWeight{
		"calm": weightSeq("calm", 1.0, 1.02, 1.04, 1.05, 1.06),
	}
	assert.Nil(t, detectThrashing(histories))
}

func TestDetectRegimeBlindness(t *testing.T) {
	agents := []string{"a", "b"}

	f := detectRegimeBlindness(RegimeBearMarket, RegimeNormal, agents)
	require.NotNil(t, f)
	assert.Equal(t, SeverityMedium, f.Severity)
	assert.Equal(t, agents, f.Agents)

	assert.Nil(t, detectRegimeBlindness(RegimeNormal, RegimeNormal, agents))
	assert.Nil(t, detectRegimeBlindness(RegimeNormal, "", agents))
}

func TestOverallConfidence(t *testing.T) {
	assert.Equal(t, 1.0, overallConfidence(nil))

	findings := []Finding{
		{Severity: SeverityHigh},   // -0.30
		{Severity: SeverityMedium}, // -0.15
		{Severity: SeverityLow},    // -0.05
	}
	assert.InDelta(t, 0.50, overallConfidence(findings), 1e-9)

	many := []Finding{
		{Severity: SeverityHigh}, {Severity: SeverityHigh},
		{Severity: SeverityHigh}, {Severity: SeverityHigh},
	}
	assert.Equal(t, 0.0, overallConfidence(many))
}

func TestRecentChangesNewestFirstHistory(t *testing.T) {
	history := weightSeq("a", 1.0, 1.1, 1.05)
	changes := recentChanges(history, 7)
	require.Len(t, changes, 2)
	assert.InDelta(t, 0.1, changes[0], 1e-9)
	assert.InDelta(t, -0.05, changes[1], 1e-9)
}
