package market

import (
	"context"
	"time"
)

// Quote is the latest snapshot for one ticker. CurrentPrice is nil when the
// upstream provider has no data.
type Quote struct {
	Ticker        string    `json:"ticker"`
	CurrentPrice  *float64  `json:"current_price"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
	Volume        *float64  `json:"volume,omitempty"`
	High          *float64  `json:"high,omitempty"`
	Low           *float64  `json:"low,omitempty"`
	Open          *float64  `json:"open,omitempty"`
	PreviousClose *float64  `json:"previous_close,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Bar is one daily OHLCV record
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Source string    `json:"source,omitempty"`
}

// Volume trend classifications
const (
	VolumeTrendIncreasing = "increasing"
	VolumeTrendDecreasing = "decreasing"
	VolumeTrendNeutral    = "neutral"
)

// Indicators holds the technical indicator set consumed by agents. Pointers
// are nil when the value could not be computed.
type Indicators struct {
	RSI            *float64 `json:"rsi,omitempty"`
	PriceChange7D  *float64 `json:"price_change_7d,omitempty"`
	PriceChange30D *float64 `json:"price_change_30d,omitempty"`
	VolumeTrend    string   `json:"volume_trend,omitempty"`
	SMA50          *float64 `json:"sma_50,omitempty"`
	SMA200         *float64 `json:"sma_200,omitempty"`
}

// Snapshot bundles everything an agent needs for one ticker
type Snapshot struct {
	Quote      Quote       `json:"quote"`
	Indicators *Indicators `json:"indicators,omitempty"`
}

// SourceScore is one provider's contribution to aggregated sentiment
type SourceScore struct {
	Score    float64 `json:"sentiment_score"`
	Mentions int     `json:"mentions"`
}

// Sentiment is the aggregated social + news sentiment for one ticker
type Sentiment struct {
	Ticker        string       `json:"ticker"`
	Combined      float64      `json:"combined_sentiment"` // [-1, 1]
	Label         string       `json:"sentiment_label"`
	TotalMentions int          `json:"total_mentions"`
	Reddit        *SourceScore `json:"reddit,omitempty"`
	News          *SourceScore `json:"news,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// QuoteSource provides the latest quote for a ticker
type QuoteSource interface {
	GetQuote(ctx context.Context, ticker string) (*Quote, error)
}

// HistorySource provides daily bars, newest first
type HistorySource interface {
	GetHistorical(ctx context.Context, ticker string, days int) ([]Bar, error)
}

// IndicatorSource provides technical indicators for a ticker
type IndicatorSource interface {
	GetIndicators(ctx context.Context, ticker string) (*Indicators, error)
}

// SentimentSource provides aggregated sentiment for a ticker
type SentimentSource interface {
	Aggregate(ctx context.Context, ticker string) (*Sentiment, error)
}

// Float returns a pointer to v. Shorthand for building optional fields.
func Float(v float64) *float64 { return &v }
