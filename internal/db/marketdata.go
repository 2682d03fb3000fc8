package db

import (
	"context"
	"fmt"
	"time"

	"github.com/zurychhh/alpha-machine-sub000/internal/market"
)

// MarketDataStore persists quote and sentiment snapshots so backtests and
// performance analysis can replay what the pipeline saw.
type MarketDataStore struct {
	pool Pool
}

// NewMarketDataStore creates a market data store
func NewMarketDataStore(pool Pool) *MarketDataStore {
	return &MarketDataStore{pool: pool}
}

// SaveQuote appends one quote snapshot
func (s *MarketDataStore) SaveQuote(ctx context.Context, q market.Quote) error {
	if q.CurrentPrice == nil {
		return fmt.Errorf("quote for %s has no price", q.Ticker)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO market_data (ticker, price, change_percent, volume, high, low, open, previous_close, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		q.Ticker, q.CurrentPrice, q.ChangePercent, q.Volume, q.High, q.Low, q.Open, q.PreviousClose, q.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save quote for %s: %w", q.Ticker, err)
	}
	return nil
}

// SaveSentiment appends one sentiment snapshot
func (s *MarketDataStore) SaveSentiment(ctx context.Context, sent market.Sentiment) error {
	var redditScore, newsScore *float64
	var redditMentions, newsArticles *int
	if sent.Reddit != nil {
		redditScore, redditMentions = &sent.Reddit.Score, &sent.Reddit.Mentions
	}
	if sent.News != nil {
		newsScore, newsArticles = &sent.News.Score, &sent.News.Mentions
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sentiment_data (ticker, combined_sentiment, sentiment_label, total_mentions,
			reddit_score, reddit_mentions, news_score, news_articles, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sent.Ticker, sent.Combined, sent.Label, sent.TotalMentions,
		redditScore, redditMentions, newsScore, newsArticles, sent.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save sentiment for %s: %w", sent.Ticker, err)
	}
	return nil
}

// LatestPrice returns the most recent recorded price for a ticker
func (s *MarketDataStore) LatestPrice(ctx context.Context, ticker string) (float64, time.Time, error) {
	var price float64
	var at time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT price, recorded_at FROM market_data
		WHERE ticker = $1 ORDER BY recorded_at DESC LIMIT 1`,
		ticker,
	).Scan(&price, &at)
	if err != nil {
		return 0, time.Time{}, ErrNotFound
	}
	return price, at, nil
}
