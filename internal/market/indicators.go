package market

import (
	"context"
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/rs/zerolog"

	"github.com/zurychhh/alpha-machine-sub000/internal/config"
)

const (
	rsiPeriod       = 14
	rsiDefault      = 50.0
	smaShortPeriod  = 50
	smaLongPeriod   = 200
	volumeTrendDays = 10
)

// LocalIndicators computes indicators from a HistorySource when no upstream
// indicator provider is available. RSI falls back to a neutral 50 when the
// series is too short.
type LocalIndicators struct {
	history HistorySource
	logger  zerolog.Logger
}

// NewLocalIndicators creates an indicator source backed by historical bars
func NewLocalIndicators(history HistorySource) *LocalIndicators {
	return &LocalIndicators{
		history: history,
		logger:  config.NewLogger("indicators"),
	}
}

// GetIndicators computes RSI, momentum windows, volume trend, and moving
// averages from up to a year of daily bars.
func (l *LocalIndicators) GetIndicators(ctx context.Context, ticker string) (*Indicators, error) {
	bars, err := l.history.GetHistorical(ctx, ticker, 365)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", ticker, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no historical bars for %s", ticker)
	}

	// Bars arrive newest first; indicator math wants oldest first.
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[len(bars)-1-i] = b.Close
		volumes[len(bars)-1-i] = b.Volume
	}

	ind := &Indicators{
		VolumeTrend: volumeTrend(volumes),
	}

	rsi := rsiDefault
	if v, ok := lastRSI(closes, rsiPeriod); ok {
		rsi = v
	}
	ind.RSI = &rsi

	if v, ok := priceChange(closes, 7); ok {
		ind.PriceChange7D = &v
	}
	if v, ok := priceChange(closes, 30); ok {
		ind.PriceChange30D = &v
	}
	if v, ok := lastSMA(closes, smaShortPeriod); ok {
		ind.SMA50 = &v
	}
	if v, ok := lastSMA(closes, smaLongPeriod); ok {
		ind.SMA200 = &v
	}

	l.logger.Debug().
		Str("ticker", ticker).
		Float64("rsi", rsi).
		Str("volume_trend", ind.VolumeTrend).
		Int("bars", len(bars)).
		Msg("Computed local indicators")

	return ind, nil
}

// lastRSI computes the most recent RSI value, false when data is insufficient
func lastRSI(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}

	pricesChan := make(chan float64, len(closes))
	for _, p := range closes {
		pricesChan <- p
	}
	close(pricesChan)

	rsiIndicator := momentum.NewRsiWithPeriod[float64](period)
	var last float64
	found := false
	for val := range rsiIndicator.Compute(pricesChan) {
		if !math.IsNaN(val) {
			last = val
			found = true
		}
	}
	return last, found
}

// lastSMA computes the most recent simple moving average over period closes
func lastSMA(closes []float64, period int) (float64, bool) {
	if len(closes) < period {
		return 0, false
	}

	pricesChan := make(chan float64, len(closes))
	for _, p := range closes {
		pricesChan <- p
	}
	close(pricesChan)

	smaIndicator := trend.NewSmaWithPeriod[float64](period)
	var last float64
	found := false
	for val := range smaIndicator.Compute(pricesChan) {
		last = val
		found = true
	}
	return last, found
}

// priceChange returns the percent change over the trailing window
func priceChange(closes []float64, days int) (float64, bool) {
	if len(closes) < days+1 {
		return 0, false
	}
	prev := closes[len(closes)-1-days]
	curr := closes[len(closes)-1]
	if prev == 0 {
		return 0, false
	}
	return (curr - prev) / prev * 100, true
}

// volumeTrend compares the recent half-window average volume to the prior
// half-window. A 10% move either way breaks the neutral band.
func volumeTrend(volumes []float64) string {
	if len(volumes) < volumeTrendDays {
		return VolumeTrendNeutral
	}

	recent := volumes[len(volumes)-volumeTrendDays/2:]
	prior := volumes[len(volumes)-volumeTrendDays : len(volumes)-volumeTrendDays/2]

	recentAvg := mean(recent)
	priorAvg := mean(prior)
	if priorAvg == 0 {
		return VolumeTrendNeutral
	}

	ratio := recentAvg / priorAvg
	switch {
	case ratio > 1.10:
		return VolumeTrendIncreasing
	case ratio < 0.90:
		return VolumeTrendDecreasing
	default:
		return VolumeTrendNeutral
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
