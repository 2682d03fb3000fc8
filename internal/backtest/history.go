package backtest

import (
	"context"
	"sync"
	"time"

	"github.com/zurychhh/alpha-machine-sub000/internal/market"
)

// HistoryCache adapts a market.HistorySource to the engine's per-day lookups.
// The full range is fetched once per ticker and indexed by calendar day, so a
// simulation touching the same ticker hundreds of times costs one upstream
// call.
type HistoryCache struct {
	source market.HistorySource
	days   int

	mu   sync.Mutex
	byID map[string]map[string]*Bar
}

// NewHistoryCache creates a cache serving up to days of history per ticker
func NewHistoryCache(source market.HistorySource, days int) *HistoryCache {
	if days <= 0 {
		days = 365
	}
	return &HistoryCache{
		source: source,
		days:   days,
		byID:   make(map[string]map[string]*Bar),
	}
}

// DailyBar returns the bar for a calendar day, or (nil, nil) when the market
// was closed or the upstream has a gap.
func (h *HistoryCache) DailyBar(ctx context.Context, ticker string, date time.Time) (*Bar, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	index, ok := h.byID[ticker]
	if !ok {
		bars, err := h.source.GetHistorical(ctx, ticker, h.days)
		if err != nil {
			return nil, err
		}
		index = make(map[string]*Bar, len(bars))
		for _, b := range bars {
			index[dayKey(b.Date)] = &Bar{
				Date:  b.Date,
				Open:  b.Open,
				High:  b.High,
				Low:   b.Low,
				Close: b.Close,
			}
		}
		h.byID[ticker] = index
	}

	return index[dayKey(date)], nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
