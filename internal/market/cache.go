package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zurychhh/alpha-machine-sub000/internal/metrics"
)

const (
	quoteKeyPrefix     = "alphamachine:quote:"
	sentimentKeyPrefix = "alphamachine:sentiment:"
	cacheOpTimeout     = 500 * time.Millisecond
)

// DataCache is the shared read-mostly cache of the latest quote and sentiment
// per ticker. Writes are last-writer-wins by timestamp. A nil cache is valid
// and behaves as a permanent miss.
type DataCache struct {
	client       *redis.Client
	quoteTTL     time.Duration
	sentimentTTL time.Duration
}

// NewDataCache creates a Redis-backed data cache. If client is nil, returns
// nil (cache is optional).
func NewDataCache(client *redis.Client, quoteTTL, sentimentTTL time.Duration) *DataCache {
	if client == nil {
		return nil
	}
	if quoteTTL == 0 {
		quoteTTL = 10 * time.Minute
	}
	if sentimentTTL == 0 {
		sentimentTTL = time.Hour
	}
	return &DataCache{
		client:       client,
		quoteTTL:     quoteTTL,
		sentimentTTL: sentimentTTL,
	}
}

// GetQuote retrieves a cached quote, returning false on a miss
func (c *DataCache) GetQuote(ctx context.Context, ticker string) (*Quote, bool) {
	var q Quote
	ok := c.get(ctx, quoteKeyPrefix+ticker, &q)
	metrics.RecordCacheLookup("quote", ok)
	if !ok {
		return nil, false
	}
	return &q, true
}

// SetQuote stores a quote. An older snapshot never overwrites a newer one.
func (c *DataCache) SetQuote(ctx context.Context, q *Quote) error {
	if existing, ok := c.GetQuote(ctx, q.Ticker); ok && existing.Timestamp.After(q.Timestamp) {
		return nil
	}
	return c.set(ctx, quoteKeyPrefix+q.Ticker, q, c.quoteTTL)
}

// GetSentiment retrieves cached sentiment, returning false on a miss
func (c *DataCache) GetSentiment(ctx context.Context, ticker string) (*Sentiment, bool) {
	var s Sentiment
	ok := c.get(ctx, sentimentKeyPrefix+ticker, &s)
	metrics.RecordCacheLookup("sentiment", ok)
	if !ok {
		return nil, false
	}
	return &s, true
}

// SetSentiment stores aggregated sentiment for a ticker
func (c *DataCache) SetSentiment(ctx context.Context, s *Sentiment) error {
	if existing, ok := c.GetSentiment(ctx, s.Ticker); ok && existing.Timestamp.After(s.Timestamp) {
		return nil
	}
	return c.set(ctx, sentimentKeyPrefix+s.Ticker, s, c.sentimentTTL)
}

func (c *DataCache) get(ctx context.Context, key string, target interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		return false
	}

	if err := json.Unmarshal([]byte(cached), target); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached entry")
		return false
	}

	return true
}

func (c *DataCache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, ttl).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to write cache entry")
		return err
	}

	return nil
}
