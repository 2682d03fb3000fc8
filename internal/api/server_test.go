package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurychhh/alpha-machine-sub000/internal/backtest"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/learning"
)

type fakeSignalStore struct {
	signals     map[int64]*db.StoredSignal
	analyses    map[int64][]db.AgentAnalysis
	listErr     error
	transitions []string
}

func (f *fakeSignalStore) Get(_ context.Context, id int64) (*db.StoredSignal, error) {
	sig, ok := f.signals[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return sig, nil
}

func (f *fakeSignalStore) ListByStatus(_ context.Context, statuses []db.SignalStatus, _ int) ([]db.StoredSignal, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []db.StoredSignal
	for _, sig := range f.signals {
		for _, status := range statuses {
			if sig.Status == status {
				out = append(out, *sig)
			}
		}
	}
	return out, nil
}

func (f *fakeSignalStore) Analyses(_ context.Context, signalID int64) ([]db.AgentAnalysis, error) {
	return f.analyses[signalID], nil
}

func (f *fakeSignalStore) transition(id int64, from []db.SignalStatus, to db.SignalStatus) error {
	sig, ok := f.signals[id]
	if !ok {
		return db.ErrNotFound
	}
	for _, s := range from {
		if sig.Status == s {
			sig.Status = to
			f.transitions = append(f.transitions, fmt.Sprintf("%d:%s", id, to))
			return nil
		}
	}
	return db.ErrInvalidTransition
}

func (f *fakeSignalStore) Approve(_ context.Context, id int64) error {
	return f.transition(id, []db.SignalStatus{db.StatusPending}, db.StatusApproved)
}

func (f *fakeSignalStore) Execute(_ context.Context, id int64) error {
	return f.transition(id, []db.SignalStatus{db.StatusApproved}, db.StatusExecuted)
}

func (f *fakeSignalStore) Close(_ context.Context, id int64, _ float64) error {
	return f.transition(id, []db.SignalStatus{db.StatusExecuted}, db.StatusClosed)
}

type fakeWatchlist struct {
	tickers []string
	added   []string
	removed []string
}

func (f *fakeWatchlist) ActiveTickers(context.Context) ([]string, error) { return f.tickers, nil }

func (f *fakeWatchlist) Add(_ context.Context, ticker string) error {
	f.added = append(f.added, ticker)
	return nil
}

func (f *fakeWatchlist) Deactivate(_ context.Context, ticker string) error {
	f.removed = append(f.removed, ticker)
	return nil
}

type fakeBacktestRunner struct {
	lastCfg backtest.Config
	result  *backtest.Result
	err     error
}

func (f *fakeBacktestRunner) Run(_ context.Context, cfg backtest.Config) (*backtest.Result, error) {
	f.lastCfg = cfg
	return f.result, f.err
}

type fakeBacktestReader struct {
	runs   map[uuid.UUID]*db.BacktestRun
	trades map[uuid.UUID][]db.BacktestTrade
}

func (f *fakeBacktestReader) GetRun(_ context.Context, id uuid.UUID) (*db.BacktestRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return run, nil
}

func (f *fakeBacktestReader) Trades(_ context.Context, id uuid.UUID) ([]db.BacktestTrade, error) {
	return f.trades[id], nil
}

type fakeLearningService struct {
	overrides   []string
	overrideErr error
	findings    []learning.Finding
}

func (f *fakeLearningService) ManualOverride(_ context.Context, agent string, weight float64, reason string) error {
	if f.overrideErr != nil {
		return f.overrideErr
	}
	f.overrides = append(f.overrides, fmt.Sprintf("%s=%.2f (%s)", agent, weight, reason))
	return nil
}

func (f *fakeLearningService) CheckBiases(context.Context) ([]learning.Finding, error) {
	return f.findings, nil
}

type fakeWeightReader struct {
	weights map[string]float64
	history []db.AgentWeight
}

func (f *fakeWeightReader) CurrentWeights(context.Context) (map[string]float64, error) {
	return f.weights, nil
}

func (f *fakeWeightReader) History(_ context.Context, _ string, _ int) ([]db.AgentWeight, error) {
	return f.history, nil
}

type fakeLearningLog struct {
	events []db.LearningEvent
}

func (f *fakeLearningLog) List(_ context.Context, types []db.LearningEventType, _ int) ([]db.LearningEvent, error) {
	if len(types) == 0 {
		return f.events, nil
	}
	var out []db.LearningEvent
	for _, ev := range f.events {
		for _, t := range types {
			if ev.EventType == t {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

type fakeJobRunner struct {
	triggered []string
	err       error
}

func (f *fakeJobRunner) Trigger(_ context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, name)
	return nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type apiFixture struct {
	server    *Server
	signals   *fakeSignalStore
	watchlist *fakeWatchlist
	runner    *fakeBacktestRunner
	reader    *fakeBacktestReader
	learning  *fakeLearningService
	weights   *fakeWeightReader
	events    *fakeLearningLog
	jobs      *fakeJobRunner
	db        *fakePinger
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		signals: &fakeSignalStore{
			signals:  map[int64]*db.StoredSignal{},
			analyses: map[int64][]db.AgentAnalysis{},
		},
		watchlist: &fakeWatchlist{tickers: []string{"NVDA", "MSFT"}},
		runner:    &fakeBacktestRunner{},
		reader: &fakeBacktestReader{
			runs:   map[uuid.UUID]*db.BacktestRun{},
			trades: map[uuid.UUID][]db.BacktestTrade{},
		},
		learning: &fakeLearningService{},
		weights:  &fakeWeightReader{weights: map[string]float64{"fundamental": 1.1}},
		events:   &fakeLearningLog{},
		jobs:     &fakeJobRunner{},
		db:       &fakePinger{},
	}
	f.server = NewServer(Config{
		Host:      "127.0.0.1",
		Port:      0,
		DB:        f.db,
		Signals:   f.signals,
		Watchlist: f.watchlist,
		Backtests: f.runner,
		Runs:      f.reader,
		Learning:  f.learning,
		Weights:   f.weights,
		Events:    f.events,
		Jobs:      f.jobs,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture()
	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestStatusReportsDegradedDatabase(t *testing.T) {
	f := newAPIFixture()
	f.db.err = errors.New("connection refused")

	w := f.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "down", components["database"])
}

func TestListSignalsFiltersByStatus(t *testing.T) {
	f := newAPIFixture()
	f.signals.signals[1] = &db.StoredSignal{ID: 1, Ticker: "NVDA", Status: db.StatusPending}
	f.signals.signals[2] = &db.StoredSignal{ID: 2, Ticker: "MSFT", Status: db.StatusClosed}

	w := f.do(t, http.MethodGet, "/api/v1/signals?status=PENDING", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestListSignalsRejectsUnknownStatus(t *testing.T) {
	f := newAPIFixture()
	w := f.do(t, http.MethodGet, "/api/v1/signals?status=WEIRD", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSignalIncludesAnalyses(t *testing.T) {
	f := newAPIFixture()
	f.signals.signals[7] = &db.StoredSignal{ID: 7, Ticker: "NVDA", Status: db.StatusPending}
	f.signals.analyses[7] = []db.AgentAnalysis{
		{SignalID: 7, AgentName: "fundamental", Recommendation: "BUY"},
		{SignalID: 7, AgentName: "technical", Recommendation: "HOLD"},
	}

	w := f.do(t, http.MethodGet, "/api/v1/signals/7", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Len(t, body["analyses"], 2)
}

func TestGetSignalNotFound(t *testing.T) {
	f := newAPIFixture()
	w := f.do(t, http.MethodGet, "/api/v1/signals/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSignalBadID(t *testing.T) {
	f := newAPIFixture()
	w := f.do(t, http.MethodGet, "/api/v1/signals/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignalLifecycleTransitions(t *testing.T) {
	f := newAPIFixture()
	f.signals.signals[3] = &db.StoredSignal{ID: 3, Ticker: "AMD", Status: db.StatusPending}

	w := f.do(t, http.MethodPost, "/api/v1/signals/3/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/signals/3/execute", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/signals/3/close", gin.H{"pnl": 125.5})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, db.StatusClosed, f.signals.signals[3].Status)
}

func TestApproveOutOfOrderConflicts(t *testing.T) {
	f := newAPIFixture()
	f.signals.signals[4] = &db.StoredSignal{ID: 4, Ticker: "AMD", Status: db.StatusClosed}

	w := f.do(t, http.MethodPost, "/api/v1/signals/4/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCloseRequiresPnL(t *testing.T) {
	f := newAPIFixture()
	f.signals.signals[5] = &db.StoredSignal{ID: 5, Ticker: "AMD", Status: db.StatusExecuted}

	w := f.do(t, http.MethodPost, "/api/v1/signals/5/close", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWatchlistAddNormalizesTicker(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/api/v1/watchlist", gin.H{"ticker": " nvda "})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"NVDA"}, f.watchlist.added)
}

func TestWatchlistRemove(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodDelete, "/api/v1/watchlist/msft", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"MSFT"}, f.watchlist.removed)
}

func TestRunBacktestParsesRequest(t *testing.T) {
	f := newAPIFixture()
	f.runner.result = &backtest.Result{
		Run: db.BacktestRun{ID: uuid.New(), TotalTrades: 4},
	}

	w := f.do(t, http.MethodPost, "/api/v1/backtests", gin.H{
		"start":            "2025-01-02",
		"end":              "2025-06-30",
		"mode":             "CORE_FOCUS",
		"starting_capital": 10000,
		"hold_period_days": 10,
		"tickers":          []string{"NVDA"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, backtest.ModeCoreFocus, f.runner.lastCfg.Mode)
	assert.Equal(t, 10000.0, f.runner.lastCfg.StartingCapital)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), f.runner.lastCfg.Start)
}

func TestRunBacktestDefaultsToBalanced(t *testing.T) {
	f := newAPIFixture()
	f.runner.result = &backtest.Result{}

	w := f.do(t, http.MethodPost, "/api/v1/backtests", gin.H{
		"start": "2025-01-02",
		"end":   "2025-06-30",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, backtest.ModeBalanced, f.runner.lastCfg.Mode)
}

func TestRunBacktestRejectsBadInput(t *testing.T) {
	f := newAPIFixture()

	cases := []gin.H{
		{"end": "2025-06-30"},
		{"start": "01/02/2025", "end": "2025-06-30"},
		{"start": "2025-06-30", "end": "2025-01-02"},
		{"start": "2025-01-02", "end": "2025-06-30", "mode": "YOLO"},
	}
	for _, body := range cases {
		w := f.do(t, http.MethodPost, "/api/v1/backtests", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func TestGetBacktestAndTrades(t *testing.T) {
	f := newAPIFixture()
	id := uuid.New()
	f.reader.runs[id] = &db.BacktestRun{ID: id, TotalTrades: 2}
	f.reader.trades[id] = []db.BacktestTrade{
		{BacktestID: id, Ticker: "NVDA", Result: "WIN"},
		{BacktestID: id, Ticker: "MSFT", Result: "LOSS"},
	}

	w := f.do(t, http.MethodGet, "/api/v1/backtests/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/backtests/"+id.String()+"/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])
}

func TestGetBacktestBadID(t *testing.T) {
	f := newAPIFixture()
	w := f.do(t, http.MethodGet, "/api/v1/backtests/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetWeights(t *testing.T) {
	f := newAPIFixture()
	w := f.do(t, http.MethodGet, "/api/v1/learning/weights", nil)
	require.Equal(t, http.StatusOK, w.Code)

	weights := decode(t, w)["weights"].(map[string]any)
	assert.InDelta(t, 1.1, weights["fundamental"], 1e-9)
}

func TestWeightOverride(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/api/v1/learning/override", gin.H{
		"agent":  "sentiment",
		"weight": 1.4,
		"reason": "earnings season",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.learning.overrides, 1)
	assert.Contains(t, f.learning.overrides[0], "sentiment=1.40")
}

func TestWeightOverrideOutOfBoundsIsBadRequest(t *testing.T) {
	f := newAPIFixture()
	f.learning.overrideErr = errors.New("weight 2.50 outside [0.30, 2.00]")

	w := f.do(t, http.MethodPost, "/api/v1/learning/override", gin.H{
		"agent":  "sentiment",
		"weight": 2.5,
		"reason": "test",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLearningEventsFilterByType(t *testing.T) {
	f := newAPIFixture()
	f.events.events = []db.LearningEvent{
		{EventType: db.EventWeightUpdate, Reasoning: "weekly"},
		{EventType: db.EventAlert, Reasoning: "drift"},
	}

	w := f.do(t, http.MethodGet, "/api/v1/learning/events?type=ALERT", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestBiasCheckReturnsFindings(t *testing.T) {
	f := newAPIFixture()
	f.learning.findings = []learning.Finding{
		{Bias: learning.BiasOverfitting, Severity: learning.SeverityHigh, Agents: []string{"sentiment"}},
	}

	w := f.do(t, http.MethodPost, "/api/v1/learning/bias-check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestTriggerJob(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/api/v1/jobs/check_critical_biases/trigger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"check_critical_biases"}, f.jobs.triggered)
}

func TestTriggerUnknownJobIs404(t *testing.T) {
	f := newAPIFixture()
	f.jobs.err = errors.New(`unknown job "nope"`)

	w := f.do(t, http.MethodPost, "/api/v1/jobs/nope/trigger", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNilServicesReturn503(t *testing.T) {
	s := NewServer(Config{})

	for _, path := range []string{
		"/api/v1/signals",
		"/api/v1/watchlist",
		"/api/v1/learning/weights",
	} {
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}
