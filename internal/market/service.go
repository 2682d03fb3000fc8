package market

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zurychhh/alpha-machine-sub000/internal/config"
	"github.com/zurychhh/alpha-machine-sub000/internal/reliability"
)

// Breaker tags for the external data providers
const (
	serviceQuotes    = "quotes"
	serviceHistory   = "history"
	serviceSentiment = "sentiment"
)

// DataService fronts the external data adapters with the reliability layer
// and the shared cache. It is the single entry point the pipeline and the
// scheduler use for market inputs.
type DataService struct {
	quotes     QuoteSource
	history    HistorySource
	indicators IndicatorSource
	sentiment  SentimentSource
	cache      *DataCache
	breakers   *reliability.BreakerRegistry
	retryCfg   reliability.RetryConfig
	logger     zerolog.Logger
}

// NewDataService wires the adapters together. cache may be nil.
func NewDataService(
	quotes QuoteSource,
	history HistorySource,
	indicators IndicatorSource,
	sentiment SentimentSource,
	cache *DataCache,
	breakers *reliability.BreakerRegistry,
) *DataService {
	return &DataService{
		quotes:     quotes,
		history:    history,
		indicators: indicators,
		sentiment:  sentiment,
		cache:      cache,
		breakers:   breakers,
		retryCfg:   reliability.DefaultRetryConfig(),
		logger:     config.NewLogger("market_data"),
	}
}

// Snapshot returns the latest quote plus indicators for a ticker, preferring
// the cache. A missing indicator set degrades to a quote-only snapshot.
func (s *DataService) Snapshot(ctx context.Context, ticker string) (*Snapshot, error) {
	quote, err := s.Quote(ctx, ticker)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Quote: *quote}

	ind, err := s.Indicators(ctx, ticker)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("ticker", ticker).
			Msg("Indicators unavailable, using quote-only snapshot")
	} else {
		snap.Indicators = ind
	}

	return snap, nil
}

// Quote returns the latest quote, consulting the cache before the provider
func (s *DataService) Quote(ctx context.Context, ticker string) (*Quote, error) {
	if q, ok := s.cache.GetQuote(ctx, ticker); ok {
		return q, nil
	}
	return s.RefreshQuote(ctx, ticker)
}

// RefreshQuote fetches a quote from the provider and updates the cache
func (s *DataService) RefreshQuote(ctx context.Context, ticker string) (*Quote, error) {
	var quote *Quote
	err := reliability.WithRetry(ctx, s.retryCfg, func() error {
		result, err := s.breakers.Execute(serviceQuotes, func() (interface{}, error) {
			return s.quotes.GetQuote(ctx, ticker)
		})
		if err != nil {
			return err
		}
		quote = result.(*Quote)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", ticker, err)
	}

	if err := s.cache.SetQuote(ctx, quote); err != nil && s.cache != nil {
		s.logger.Debug().Err(err).Str("ticker", ticker).Msg("Quote cache write failed")
	}
	return quote, nil
}

// Historical returns daily bars, newest first
func (s *DataService) Historical(ctx context.Context, ticker string, days int) ([]Bar, error) {
	var bars []Bar
	err := reliability.WithRetry(ctx, s.retryCfg, func() error {
		result, err := s.breakers.Execute(serviceHistory, func() (interface{}, error) {
			return s.history.GetHistorical(ctx, ticker, days)
		})
		if err != nil {
			return err
		}
		bars = result.([]Bar)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", ticker, err)
	}
	return bars, nil
}

// Indicators returns the technical indicator set for a ticker
func (s *DataService) Indicators(ctx context.Context, ticker string) (*Indicators, error) {
	return s.indicators.GetIndicators(ctx, ticker)
}

// SentimentFor returns aggregated sentiment, consulting the cache first.
// Failures return nil sentiment (the pipeline treats sentiment as optional).
func (s *DataService) SentimentFor(ctx context.Context, ticker string) *Sentiment {
	if sent, ok := s.cache.GetSentiment(ctx, ticker); ok {
		return sent
	}
	sent, err := s.RefreshSentiment(ctx, ticker)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("ticker", ticker).
			Msg("Sentiment unavailable")
		return nil
	}
	return sent
}

// RefreshSentiment re-aggregates sentiment and updates the cache
func (s *DataService) RefreshSentiment(ctx context.Context, ticker string) (*Sentiment, error) {
	result, err := s.breakers.Execute(serviceSentiment, func() (interface{}, error) {
		return s.sentiment.Aggregate(ctx, ticker)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sentiment for %s: %w", ticker, err)
	}

	sent := result.(*Sentiment)
	if err := s.cache.SetSentiment(ctx, sent); err != nil && s.cache != nil {
		s.logger.Debug().Err(err).Str("ticker", ticker).Msg("Sentiment cache write failed")
	}
	return sent, nil
}
