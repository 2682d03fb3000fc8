package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurychhh/alpha-machine-sub000/internal/reliability"
)

const chartPayload = `{
  "chart": {
    "result": [{
      "meta": {
        "symbol": "NVDA",
        "regularMarketPrice": 130.5,
        "chartPreviousClose": 125.0
      },
      "timestamp": [1735689600, 1735776000, 1735862400],
      "indicators": {
        "quote": [{
          "open":   [124.0, 126.0, 129.0],
          "high":   [126.5, 129.5, 131.0],
          "low":    [123.0, 125.5, 128.0],
          "close":  [125.0, 128.0, 130.5],
          "volume": [1000000, 1100000, 900000]
        }]
      }
    }],
    "error": null
  }
}`

func chartServer(t *testing.T, handler http.HandlerFunc) *YahooClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewYahooClient(time.Second, WithYahooBaseURL(srv.URL))
}

func TestYahooGetQuote(t *testing.T) {
	client := chartServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/NVDA")
		fmt.Fprint(w, chartPayload)
	})

	quote, err := client.GetQuote(context.Background(), "NVDA")
	require.NoError(t, err)

	require.NotNil(t, quote.CurrentPrice)
	assert.Equal(t, 130.5, *quote.CurrentPrice)
	require.NotNil(t, quote.ChangePercent)
	assert.InDelta(t, 4.4, *quote.ChangePercent, 0.01)
	require.NotNil(t, quote.Volume)
	assert.Equal(t, 900000.0, *quote.Volume)
}

func TestYahooGetHistoricalNewestFirst(t *testing.T) {
	client := chartServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, chartPayload)
	})

	bars, err := client.GetHistorical(context.Background(), "NVDA", 3)
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, 130.5, bars[0].Close)
	assert.Equal(t, 125.0, bars[2].Close)
	assert.True(t, bars[0].Date.After(bars[1].Date))
	assert.Equal(t, "yahoo", bars[0].Source)
}

func TestYahooSkipsNullCloses(t *testing.T) {
	payload := `{"chart":{"result":[{"meta":{"regularMarketPrice":10},
		"timestamp":[1735689600,1735776000],
		"indicators":{"quote":[{"open":[9,null],"high":[11,null],"low":[8,null],"close":[10,null],"volume":[100,null]}]}}],
		"error":null}}`
	client := chartServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, payload)
	})

	bars, err := client.GetHistorical(context.Background(), "NVDA", 2)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 10.0, bars[0].Close)
}

func TestYahooRateLimitCarriesRetryAfter(t *testing.T) {
	client := chartServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetQuote(context.Background(), "NVDA")
	require.Error(t, err)

	var statusErr *reliability.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, 7*time.Second, statusErr.RetryAfter)
	assert.True(t, statusErr.Retryable())
}

func TestYahooUnknownTicker(t *testing.T) {
	client := chartServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
	})

	_, err := client.GetQuote(context.Background(), "NOPE")
	assert.ErrorContains(t, err, "No data found")
}
