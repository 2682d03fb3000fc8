package learning

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/zurychhh/alpha-machine-sub000/internal/market"
)

// MarketRegime classifies the broad market environment
type MarketRegime string

const (
	RegimeNormal         MarketRegime = "NORMAL"
	RegimeHighVolatility MarketRegime = "HIGH_VOLATILITY"
	RegimeBearMarket     MarketRegime = "BEAR_MARKET"
	RegimeDivergence     MarketRegime = "DIVERGENCE"
)

// Regime detection thresholds
const (
	vixElevated       = 25.0
	vixExtreme        = 35.0
	bearDiscountToSMA = 0.05
	minBasketCorr     = 0.30
	corrWindowDays    = 30
)

// Reference tickers for regime detection
var (
	vixTicker       = "^VIX"
	benchmarkTicker = "SPY"
	aiBasket        = []string{"NVDA", "MSFT", "GOOGL", "AMD", "PLTR"}
)

// RegimeReading is one detection result
type RegimeReading struct {
	Regime     MarketRegime
	Confidence float64
	VIX        float64
	Reasoning  string
}

// MarketReader is the slice of market data the detector needs
type MarketReader interface {
	GetQuote(ctx context.Context, ticker string) (*market.Quote, error)
	GetHistorical(ctx context.Context, ticker string, days int) ([]market.Bar, error)
	GetIndicators(ctx context.Context, ticker string) (*market.Indicators, error)
}

// RegimeDetector derives the current market regime from VIX, the SPY trend,
// and AI-basket correlation.
type RegimeDetector struct {
	source MarketReader
	logger zerolog.Logger
}

// NewRegimeDetector creates a regime detector
func NewRegimeDetector(source MarketReader, logger zerolog.Logger) *RegimeDetector {
	return &RegimeDetector{
		source: source,
		logger: logger.With().Str("component", "regime_detector").Logger(),
	}
}

// Detect classifies the current regime. Checks run in priority order:
// volatility first, then trend, then correlation.
func (d *RegimeDetector) Detect(ctx context.Context) (RegimeReading, error) {
	vix := d.vixLevel(ctx)

	if vix >= vixExtreme {
		return RegimeReading{
			Regime:     RegimeHighVolatility,
			Confidence: 0.95,
			VIX:        vix,
			Reasoning:  fmt.Sprintf("VIX at %.1f, extreme volatility", vix),
		}, nil
	}
	if vix >= vixElevated {
		return RegimeReading{
			Regime:     RegimeHighVolatility,
			Confidence: 0.85,
			VIX:        vix,
			Reasoning:  fmt.Sprintf("VIX at %.1f, elevated volatility", vix),
		}, nil
	}

	bear, reason, err := d.bearCheck(ctx)
	if err != nil {
		return RegimeReading{}, err
	}
	if bear {
		return RegimeReading{Regime: RegimeBearMarket, Confidence: 0.85, VIX: vix, Reasoning: reason}, nil
	}

	corr, err := d.basketCorrelation(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Basket correlation unavailable, assuming normal")
	} else if corr < minBasketCorr {
		return RegimeReading{
			Regime:     RegimeDivergence,
			Confidence: 0.75,
			VIX:        vix,
			Reasoning:  fmt.Sprintf("AI basket correlation to %s at %.2f", benchmarkTicker, corr),
		}, nil
	}

	return RegimeReading{Regime: RegimeNormal, Confidence: 0.80, VIX: vix, Reasoning: "No stress indicators active"}, nil
}

// vixLevel reads the VIX quote; a failed read counts as calm rather than
// aborting the whole learning run.
func (d *RegimeDetector) vixLevel(ctx context.Context) float64 {
	quote, err := d.source.GetQuote(ctx, vixTicker)
	if err != nil || quote == nil || quote.CurrentPrice == nil {
		d.logger.Warn().Err(err).Msg("VIX quote unavailable")
		return 0
	}
	return *quote.CurrentPrice
}

// bearCheck tests whether SPY trades at least 5% below its 200-day SMA
func (d *RegimeDetector) bearCheck(ctx context.Context) (bool, string, error) {
	quote, err := d.source.GetQuote(ctx, benchmarkTicker)
	if err != nil {
		return false, "", fmt.Errorf("failed to read %s quote: %w", benchmarkTicker, err)
	}
	if quote == nil || quote.CurrentPrice == nil {
		return false, "", nil
	}

	ind, err := d.source.GetIndicators(ctx, benchmarkTicker)
	if err != nil || ind == nil || ind.SMA200 == nil || *ind.SMA200 <= 0 {
		return false, "", nil
	}

	discount := (*ind.SMA200 - *quote.CurrentPrice) / *ind.SMA200
	if discount >= bearDiscountToSMA {
		return true, fmt.Sprintf("%s %.1f%% below its 200-day SMA", benchmarkTicker, discount*100), nil
	}
	return false, "", nil
}

// basketCorrelation averages the 30-day daily-return correlation of each
// basket ticker against the benchmark.
func (d *RegimeDetector) basketCorrelation(ctx context.Context) (float64, error) {
	benchReturns, err := d.dailyReturns(ctx, benchmarkTicker)
	if err != nil {
		return 0, err
	}

	total := 0.0
	counted := 0
	for _, ticker := range aiBasket {
		returns, err := d.dailyReturns(ctx, ticker)
		if err != nil {
			d.logger.Warn().Err(err).Str("ticker", ticker).Msg("Skipping basket ticker")
			continue
		}
		if corr, ok := correlation(returns, benchReturns); ok {
			total += corr
			counted++
		}
	}

	if counted == 0 {
		return 0, fmt.Errorf("no basket tickers with usable history")
	}
	return total / float64(counted), nil
}

func (d *RegimeDetector) dailyReturns(ctx context.Context, ticker string) ([]float64, error) {
	bars, err := d.source.GetHistorical(ctx, ticker, corrWindowDays+1)
	if err != nil {
		return nil, err
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("insufficient history for %s", ticker)
	}

	// Bars arrive newest first; returns come out oldest first.
	returns := make([]float64, 0, len(bars)-1)
	for i := len(bars) - 1; i > 0; i-- {
		prev := bars[i].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (bars[i-1].Close-prev)/prev)
	}
	return returns, nil
}

// correlation computes Pearson correlation over the overlapping prefix
func correlation(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0, false
	}
	a, b = a[:n], b[:n]

	meanA, meanB := 0.0, 0.0
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}
