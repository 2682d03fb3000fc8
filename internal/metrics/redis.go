package metrics

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PoolWatcher periodically exports the Redis connection pool stats
type PoolWatcher struct {
	client   *redis.Client
	interval time.Duration
	logger   zerolog.Logger
}

// NewPoolWatcher creates a pool watcher. interval defaults to 30 seconds.
func NewPoolWatcher(client *redis.Client, interval time.Duration, logger zerolog.Logger) *PoolWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PoolWatcher{
		client:   client,
		interval: interval,
		logger:   logger.With().Str("component", "redis_pool_watcher").Logger(),
	}
}

// Start exports pool stats until ctx is cancelled
func (w *PoolWatcher) Start(ctx context.Context) {
	if w.client == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.collect()
			}
		}
	}()
	w.logger.Debug().Dur("interval", w.interval).Msg("Pool watcher started")
}

func (w *PoolWatcher) collect() {
	stats := w.client.PoolStats()
	redisPoolConns.WithLabelValues("total").Set(float64(stats.TotalConns))
	redisPoolConns.WithLabelValues("idle").Set(float64(stats.IdleConns))
	redisPoolConns.WithLabelValues("stale").Set(float64(stats.StaleConns))
	redisPoolMisses.Set(float64(stats.Misses))
}
