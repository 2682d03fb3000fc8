package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zurychhh/alpha-machine-sub000/internal/reliability"
)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooClient fetches quotes and daily bars from the Yahoo chart endpoint.
// It implements QuoteSource and HistorySource; callers route it through the
// reliability layer, so it reports transient failures as-is.
type YahooClient struct {
	baseURL    string
	httpClient *http.Client
}

// YahooOption customizes the client
type YahooOption func(*YahooClient)

// WithYahooBaseURL points the client at a different host, mainly for tests
func WithYahooBaseURL(url string) YahooOption {
	return func(c *YahooClient) { c.baseURL = url }
}

// NewYahooClient creates a chart-endpoint client
func NewYahooClient(timeout time.Duration, opts ...YahooOption) *YahooClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &YahooClient{
		baseURL:    defaultYahooBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chartResponse mirrors the subset of the v8 chart payload we consume
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetQuote returns the latest quote for a ticker
func (c *YahooClient) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	payload, err := c.fetchChart(ctx, ticker, 2)
	if err != nil {
		return nil, err
	}

	result := payload.Chart.Result[0]
	quote := &Quote{
		Ticker:       ticker,
		CurrentPrice: Float(result.Meta.RegularMarketPrice),
		Timestamp:    time.Now(),
	}

	if prev := result.Meta.ChartPreviousClose; prev > 0 {
		quote.PreviousClose = Float(prev)
		quote.ChangePercent = Float((result.Meta.RegularMarketPrice - prev) / prev * 100)
	}

	if len(result.Indicators.Quote) > 0 && len(result.Timestamp) > 0 {
		bars := result.Indicators.Quote[0]
		last := len(result.Timestamp) - 1
		if last < len(bars.Open) && bars.Open[last] != nil {
			quote.Open = bars.Open[last]
		}
		if last < len(bars.High) && bars.High[last] != nil {
			quote.High = bars.High[last]
		}
		if last < len(bars.Low) && bars.Low[last] != nil {
			quote.Low = bars.Low[last]
		}
		if last < len(bars.Volume) && bars.Volume[last] != nil {
			quote.Volume = bars.Volume[last]
		}
	}

	return quote, nil
}

// GetHistorical returns up to days daily bars, newest first. Days with a
// missing close (half sessions, upstream gaps) are skipped.
func (c *YahooClient) GetHistorical(ctx context.Context, ticker string, days int) ([]Bar, error) {
	payload, err := c.fetchChart(ctx, ticker, days)
	if err != nil {
		return nil, err
	}

	result := payload.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no bar data for %s", ticker)
	}
	series := result.Indicators.Quote[0]

	bars := make([]Bar, 0, len(result.Timestamp))
	for i := len(result.Timestamp) - 1; i >= 0; i-- {
		if i >= len(series.Close) || series.Close[i] == nil {
			continue
		}
		bar := Bar{
			Date:   time.Unix(result.Timestamp[i], 0).UTC(),
			Close:  *series.Close[i],
			Source: "yahoo",
		}
		if i < len(series.Open) && series.Open[i] != nil {
			bar.Open = *series.Open[i]
		}
		if i < len(series.High) && series.High[i] != nil {
			bar.High = *series.High[i]
		}
		if i < len(series.Low) && series.Low[i] != nil {
			bar.Low = *series.Low[i]
		}
		if i < len(series.Volume) && series.Volume[i] != nil {
			bar.Volume = *series.Volume[i]
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("no bar data for %s", ticker)
	}
	return bars, nil
}

func (c *YahooClient) fetchChart(ctx context.Context, ticker string, days int) (*chartResponse, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=%dd&interval=1d", c.baseURL, ticker, days)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "alpha-machine/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		log.Warn().
			Str("ticker", ticker).
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Chart request failed")

		statusErr := &reliability.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			statusErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, statusErr
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode chart response: %w", err)
	}

	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("chart error for %s: %s", ticker, payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart data for %s", ticker)
	}
	return &payload, nil
}
