package market

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	score *SourceScore
	err   error
}

func (s *stubSource) GetSentiment(ctx context.Context, ticker string) (*SourceScore, error) {
	return s.score, s.err
}

func TestAggregateBothSources(t *testing.T) {
	agg := NewSentimentAggregator(
		&stubSource{score: &SourceScore{Score: 0.5, Mentions: 40}},
		&stubSource{score: &SourceScore{Score: -0.25, Mentions: 10}},
	)

	s, err := agg.Aggregate(context.Background(), "AAPL")
	require.NoError(t, err)

	// 0.6*0.5 + 0.4*(-0.25) = 0.20
	assert.InDelta(t, 0.20, s.Combined, 1e-9)
	assert.Equal(t, LabelSlightlyBullish, s.Label)
	assert.Equal(t, 50, s.TotalMentions)
}

func TestAggregateSingleSourceFullWeight(t *testing.T) {
	agg := NewSentimentAggregator(
		&stubSource{score: &SourceScore{Score: 0.8, Mentions: 25}},
		&stubSource{score: &SourceScore{Score: 0.1, Mentions: 0}}, // no articles
	)

	s, err := agg.Aggregate(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, s.Combined, 1e-9)
	assert.Equal(t, LabelBullish, s.Label)
}

func TestAggregateSourceFailureDegrades(t *testing.T) {
	agg := NewSentimentAggregator(
		&stubSource{err: errors.New("reddit down")},
		&stubSource{score: &SourceScore{Score: -0.5, Mentions: 12}},
	)

	s, err := agg.Aggregate(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.InDelta(t, -0.5, s.Combined, 1e-9)
	assert.Equal(t, LabelBearish, s.Label)
	assert.Equal(t, 12, s.TotalMentions)
}

func TestAggregateNoDataIsNeutral(t *testing.T) {
	agg := NewSentimentAggregator(
		&stubSource{score: &SourceScore{}},
		&stubSource{score: &SourceScore{}},
	)

	s, err := agg.Aggregate(context.Background(), "GOOGL")
	require.NoError(t, err)
	assert.Zero(t, s.Combined)
	assert.Equal(t, LabelNeutral, s.Label)
}

func TestSentimentLabelCutpoints(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.5, LabelBullish},
		{0.31, LabelBullish},
		{0.2, LabelSlightlyBullish},
		{0.1, LabelNeutral},
		{0.0, LabelNeutral},
		{-0.1, LabelNeutral},
		{-0.2, LabelSlightlyBearish},
		{-0.31, LabelBearish},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sentimentLabel(tt.score), "score %.2f", tt.score)
	}
}
