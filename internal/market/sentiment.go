package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zurychhh/alpha-machine-sub000/internal/config"
	"github.com/zurychhh/alpha-machine-sub000/internal/reliability"
)

// Sentiment labels ordered bullish to bearish
const (
	LabelBullish         = "bullish"
	LabelSlightlyBullish = "slightly_bullish"
	LabelNeutral         = "neutral"
	LabelSlightlyBearish = "slightly_bearish"
	LabelBearish         = "bearish"
)

// RedditSource provides retail social sentiment for a ticker
type RedditSource interface {
	GetSentiment(ctx context.Context, ticker string) (*SourceScore, error)
}

// NewsSource provides news article sentiment for a ticker
type NewsSource interface {
	GetSentiment(ctx context.Context, ticker string) (*SourceScore, error)
}

// SentimentAggregator combines reddit and news scores into one Sentiment.
// Reddit is weighted 0.6 and news 0.4; a source with no mentions drops out
// and the other carries full weight.
type SentimentAggregator struct {
	reddit RedditSource
	news   NewsSource
	logger zerolog.Logger
}

// NewSentimentAggregator creates a sentiment aggregator
func NewSentimentAggregator(reddit RedditSource, news NewsSource) *SentimentAggregator {
	return &SentimentAggregator{
		reddit: reddit,
		news:   news,
		logger: config.NewLogger("sentiment"),
	}
}

// Aggregate combines the providers' scores. Provider failures degrade to an
// empty score rather than failing the aggregation.
func (a *SentimentAggregator) Aggregate(ctx context.Context, ticker string) (*Sentiment, error) {
	redditScore := a.fetch(ctx, ticker, "reddit", func() (*SourceScore, error) {
		if a.reddit == nil {
			return &SourceScore{}, nil
		}
		return a.reddit.GetSentiment(ctx, ticker)
	})
	newsScore := a.fetch(ctx, ticker, "news", func() (*SourceScore, error) {
		if a.news == nil {
			return &SourceScore{}, nil
		}
		return a.news.GetSentiment(ctx, ticker)
	})

	redditWeight := 0.0
	if redditScore.Mentions > 0 {
		redditWeight = 0.6
	}
	newsWeight := 0.0
	if newsScore.Mentions > 0 {
		newsWeight = 0.4
	}

	combined := 0.0
	if total := redditWeight + newsWeight; total > 0 {
		combined = (redditScore.Score*redditWeight + newsScore.Score*newsWeight) / total
	}

	s := &Sentiment{
		Ticker:        ticker,
		Combined:      combined,
		Label:         sentimentLabel(combined),
		TotalMentions: redditScore.Mentions + newsScore.Mentions,
		Reddit:        redditScore,
		News:          newsScore,
		Timestamp:     time.Now(),
	}

	a.logger.Info().
		Str("ticker", ticker).
		Float64("combined", combined).
		Str("label", s.Label).
		Int("mentions", s.TotalMentions).
		Msg("Aggregated sentiment")

	return s, nil
}

func (a *SentimentAggregator) fetch(ctx context.Context, ticker, source string, fn func() (*SourceScore, error)) *SourceScore {
	return reliability.WithFallback(
		func() (*SourceScore, error) {
			score, err := fn()
			if err != nil {
				a.logger.Warn().
					Err(err).
					Str("ticker", ticker).
					Str("source", source).
					Msg("Sentiment source failed, using empty score")
				return nil, err
			}
			return score, nil
		},
		func() *SourceScore { return &SourceScore{} },
	)
}

func sentimentLabel(score float64) string {
	switch {
	case score > 0.3:
		return LabelBullish
	case score > 0.1:
		return LabelSlightlyBullish
	case score < -0.3:
		return LabelBearish
	case score < -0.1:
		return LabelSlightlyBearish
	default:
		return LabelNeutral
	}
}
