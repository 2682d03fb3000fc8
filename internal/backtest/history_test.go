package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurychhh/alpha-machine-sub000/internal/market"
)

type countingHistory struct {
	calls int
	bars  []market.Bar
	err   error
}

func (c *countingHistory) GetHistorical(_ context.Context, _ string, _ int) ([]market.Bar, error) {
	c.calls++
	return c.bars, c.err
}

func TestHistoryCacheFetchesOncePerTicker(t *testing.T) {
	day1 := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	source := &countingHistory{bars: []market.Bar{
		{Date: day2, Open: 101, High: 103, Low: 100, Close: 102},
		{Date: day1, Open: 99, High: 101, Low: 98, Close: 100},
	}}
	cache := NewHistoryCache(source, 30)

	bar, err := cache.DailyBar(context.Background(), "NVDA", day1)
	require.NoError(t, err)
	require.NotNil(t, bar)
	assert.Equal(t, 100.0, bar.Close)

	bar, err = cache.DailyBar(context.Background(), "NVDA", day2)
	require.NoError(t, err)
	require.NotNil(t, bar)
	assert.Equal(t, 102.0, bar.Close)

	assert.Equal(t, 1, source.calls)
}

func TestHistoryCacheMissingDayIsNil(t *testing.T) {
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	cache := NewHistoryCache(&countingHistory{bars: []market.Bar{
		{Date: day, Close: 100},
	}}, 30)

	// Saturday: no bar, no error.
	bar, err := cache.DailyBar(context.Background(), "NVDA", day.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Nil(t, bar)
}

func TestHistoryCachePropagatesSourceError(t *testing.T) {
	cache := NewHistoryCache(&countingHistory{err: assert.AnError}, 30)

	_, err := cache.DailyBar(context.Background(), "NVDA", time.Now())
	assert.Error(t, err)
}
