package learning

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurychhh/alpha-machine-sub000/internal/alerts"
	"github.com/zurychhh/alpha-machine-sub000/internal/db"
	"github.com/zurychhh/alpha-machine-sub000/internal/events"
)

type fakeWeightRepo struct {
	current   map[string]float64
	histories map[string][]db.AgentWeight
	asOf      map[string]float64
	saved     [][]db.AgentWeight
}

func (f *fakeWeightRepo) CurrentWeights(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(f.current))
	for k, v := range f.current {
		out[k] = v
	}
	return out, nil
}

func (f *fakeWeightRepo) SaveWeights(ctx context.Context, date time.Time, weights []db.AgentWeight) error {
	f.saved = append(f.saved, weights)
	return nil
}

func (f *fakeWeightRepo) History(ctx context.Context, agentName string, days int) ([]db.AgentWeight, error) {
	return f.histories[agentName], nil
}

func (f *fakeWeightRepo) WeightAsOf(ctx context.Context, agentName string, date time.Time) (float64, error) {
	return f.asOf[agentName], nil
}

type fakeEventLog struct {
	appended     []db.LearningEvent
	regimeShifts int
	freezes      map[string]time.Time
}

func (f *fakeEventLog) Append(ctx context.Context, event db.LearningEvent) error {
	f.appended = append(f.appended, event)
	return nil
}

func (f *fakeEventLog) CountRegimeShifts(ctx context.Context, sinceDays int) (int, error) {
	return f.regimeShifts, nil
}

func (f *fakeEventLog) ActiveFreezeUntil(ctx context.Context, agentName string, freezeDays int) (time.Time, error) {
	return f.freezes[agentName], nil
}

func (f *fakeEventLog) ofType(t db.LearningEventType) []db.LearningEvent {
	var out []db.LearningEvent
	for _, e := range f.appended {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeConfigStore struct {
	values map[string]string
}

func (f *fakeConfigStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", db.ErrNotFound
	}
	return v, nil
}

func (f *fakeConfigStore) Set(ctx context.Context, key, value string) error {
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value
	return nil
}

func (f *fakeConfigStore) GetBool(ctx context.Context, key string, def bool) bool {
	raw, err := f.Get(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (f *fakeConfigStore) GetFloat(ctx context.Context, key string, def float64) float64 {
	raw, err := f.Get(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func (f *fakeConfigStore) GetInt(ctx context.Context, key string, def int) int {
	raw, err := f.Get(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// fakePerfSource serves the same win rates for every window unless an agent
// has an explicit override.
type fakePerfSource struct {
	winRate   float64
	trades    int
	overrides map[string]map[int]db.AgentPerformance
}

func (f *fakePerfSource) AgentPerformance(ctx context.Context, agentName string, windowDays int) (db.AgentPerformance, error) {
	if byWindow, ok := f.overrides[agentName]; ok {
		if perf, ok := byWindow[windowDays]; ok {
			return perf, nil
		}
	}
	return db.AgentPerformance{AgentName: agentName, WindowDays: windowDays, WinRate: f.winRate, Trades: f.trades}, nil
}

type fakeRegimeSource struct {
	reading RegimeReading
}

func (f *fakeRegimeSource) Detect(ctx context.Context) (RegimeReading, error) {
	return f.reading, nil
}

type fakeLearningNotifier struct {
	payloads []alerts.LearningPayload
}

func (f *fakeLearningNotifier) SendLearningEvent(ctx context.Context, p alerts.LearningPayload) error {
	f.payloads = append(f.payloads, p)
	return nil
}

type fakeLoopPublisher struct {
	subjects []string
}

func (f *fakeLoopPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

type loopFixture struct {
	loop      *Loop
	weights   *fakeWeightRepo
	eventLog  *fakeEventLog
	config    *fakeConfigStore
	notifier  *fakeLearningNotifier
	publisher *fakeLoopPublisher
}

func newLoopFixture(perf PerformanceSource, weights *fakeWeightRepo, regime RegimeSource) *loopFixture {
	f := &loopFixture{
		weights:   weights,
		eventLog:  &fakeEventLog{},
		config:    &fakeConfigStore{values: map[string]string{}},
		notifier:  &fakeLearningNotifier{},
		publisher: &fakeLoopPublisher{},
	}
	f.loop = NewLoop(perf, weights, f.eventLog, f.config, regime, f.notifier, f.publisher, zerolog.Nop())
	return f
}

func neutralWeights(names ...string) (map[string]float64, map[string]float64) {
	current := make(map[string]float64, len(names))
	asOf := make(map[string]float64, len(names))
	for _, n := range names {
		current[n] = 1.0
		asOf[n] = 1.0
	}
	return current, asOf
}

func TestRunHappyPathAppliesWeights(t *testing.T) {
	current, asOf := neutralWeights("fundamental", "technical", "sentiment", "risk")
	weights := &fakeWeightRepo{current: current, asOf: asOf}
	perf := &fakePerfSource{winRate: 50, trades: 80}
	fx := newLoopFixture(perf, weights, &fakeRegimeSource{reading: RegimeReading{Regime: RegimeNormal, Confidence: 0.80}})

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Applied)
	assert.Empty(t, report.BlockedReason)
	assert.Empty(t, report.Findings)
	assert.Equal(t, 1.0, report.Confidence)

	require.Len(t, fx.weights.saved, 1)
	rows := fx.weights.saved[0]
	require.Len(t, rows, 4)
	for _, row := range rows {
		assert.InDelta(t, 1.0, row.Weight, 1e-9)
		assert.Equal(t, 50.0, row.WinRate30)
		assert.Equal(t, 80, row.Trades90)
	}

	updates := fx.eventLog.ofType(db.EventWeightUpdate)
	require.Len(t, updates, 4)
	for _, e := range updates {
		require.NotNil(t, e.ConfidenceLevel)
		assert.Equal(t, 1.0, *e.ConfidenceLevel)
	}

	// One publish per agent update; first run seeds the regime without a
	// shift event.
	assert.Len(t, fx.publisher.subjects, 4)
	for _, subject := range fx.publisher.subjects {
		assert.Equal(t, events.SubjectWeightUpdate, subject)
	}
	assert.Empty(t, fx.eventLog.ofType(db.EventRegimeShift))
	assert.Equal(t, string(RegimeNormal), fx.config.values[db.KeyCurrentRegime])
}

func TestRunSkipsWithoutWeights(t *testing.T) {
	weights := &fakeWeightRepo{current: map[string]float64{}}
	fx := newLoopFixture(&fakePerfSource{winRate: 50, trades: 80}, weights, nil)

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Applied)
	assert.Empty(t, fx.eventLog.appended)
	assert.Empty(t, fx.weights.saved)
}

func TestGuardrailViolationBounds(t *testing.T) {
	weights := &fakeWeightRepo{asOf: map[string]float64{}}
	fx := newLoopFixture(nil, weights, nil)

	reason := fx.loop.guardrailViolation(context.Background(),
		map[string]float64{"a": 1.0},
		map[string]float64{"a": 2.4})
	assert.Contains(t, reason, "outside")
}

func TestGuardrailViolationWeeklyCap(t *testing.T) {
	weights := &fakeWeightRepo{asOf: map[string]float64{"a": 1.0, "b": 1.0, "c": 1.0, "d": 1.0}}
	fx := newLoopFixture(nil, weights, nil)

	// One agent jumped 80% against its week-ago baseline.
	reason := fx.loop.guardrailViolation(context.Background(),
		map[string]float64{"a": 1.0, "b": 1.0, "c": 1.0, "d": 1.0},
		map[string]float64{"a": 1.8, "b": 0.6, "c": 0.8, "d": 0.8})
	assert.Contains(t, reason, "7-day change")
}

func TestGuardrailViolationSumDrift(t *testing.T) {
	// No week-ago baselines, so only the sum check can fire.
	weights := &fakeWeightRepo{asOf: map[string]float64{}}
	fx := newLoopFixture(nil, weights, nil)

	reason := fx.loop.guardrailViolation(context.Background(),
		map[string]float64{"a": 1.0, "b": 1.0, "c": 1.0, "d": 1.0},
		map[string]float64{"a": 1.2, "b": 1.2, "c": 1.2, "d": 1.2})
	assert.Contains(t, reason, "drifted")
}

func TestGuardrailViolationCleanVector(t *testing.T) {
	weights := &fakeWeightRepo{asOf: map[string]float64{"a": 1.0, "b": 1.0}}
	fx := newLoopFixture(nil, weights, nil)

	reason := fx.loop.guardrailViolation(context.Background(),
		map[string]float64{"a": 1.0, "b": 1.0},
		map[string]float64{"a": 1.1, "b": 0.9})
	assert.Empty(t, reason)
}

func TestRunGuardrailBlocksAndAlerts(t *testing.T) {
	// The week-ago baseline sits far above today's weights, so any proposal
	// near 1.0 reads as an oversized weekly move.
	current, _ := neutralWeights("fundamental", "technical")
	weights := &fakeWeightRepo{current: current, asOf: map[string]float64{"fundamental": 2.0, "technical": 2.0}}
	fx := newLoopFixture(&fakePerfSource{winRate: 50, trades: 80}, weights, nil)

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Applied)
	assert.Contains(t, report.BlockedReason, "7-day change")
	assert.Empty(t, fx.weights.saved)

	alertEvents := fx.eventLog.ofType(db.EventAlert)
	require.Len(t, alertEvents, 1)
	assert.Contains(t, alertEvents[0].Reasoning, "Guardrail violation")

	require.Len(t, fx.notifier.payloads, 1)
	assert.Equal(t, "ALERT", fx.notifier.payloads[0].EventType)
}

func TestRunBlockedWhenAutoLearningDisabled(t *testing.T) {
	current, asOf := neutralWeights("fundamental", "technical")
	weights := &fakeWeightRepo{current: current, asOf: asOf}
	fx := newLoopFixture(&fakePerfSource{winRate: 50, trades: 80}, weights, nil)
	fx.config.values[db.KeyAutoLearningEnabled] = "false"

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Applied)
	assert.Equal(t, "auto learning disabled", report.BlockedReason)
	assert.Empty(t, fx.weights.saved)
	require.Len(t, fx.eventLog.ofType(db.EventAlert), 1)
}

func TestRunHumanReviewHoldsLowConfidenceUpdate(t *testing.T) {
	current, asOf := neutralWeights("fundamental", "technical", "sentiment")
	weights := &fakeWeightRepo{current: current, asOf: asOf}
	perf := &fakePerfSource{
		winRate: 50,
		trades:  80,
		overrides: map[string]map[int]db.AgentPerformance{
			// Four trades trips the overfitting detector for one agent.
			"sentiment": {
				7:  {WindowDays: 7, WinRate: 60, Trades: 4},
				30: {WindowDays: 30, WinRate: 58, Trades: 4},
				90: {WindowDays: 90, WinRate: 55, Trades: 4},
			},
		},
	}
	fx := newLoopFixture(perf, weights, nil)
	fx.config.values[db.KeyHumanReviewRequired] = "true"
	fx.config.values[db.KeyMinConfidenceForAuto] = "0.90"

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, BiasOverfitting, report.Findings[0].Bias)
	assert.InDelta(t, 0.85, report.Confidence, 1e-9)

	assert.False(t, report.Applied)
	assert.Contains(t, report.BlockedReason, "below auto threshold")
	assert.Empty(t, fx.weights.saved)
	require.Len(t, fx.notifier.payloads, 1)
	assert.Contains(t, fx.notifier.payloads[0].Reasoning, "pending review")
}

func TestRunFrozenAfterRepeatedRegimeShifts(t *testing.T) {
	current, asOf := neutralWeights("fundamental", "technical")
	weights := &fakeWeightRepo{current: current, asOf: asOf}
	fx := newLoopFixture(&fakePerfSource{winRate: 50, trades: 80}, weights, nil)
	fx.eventLog.regimeShifts = 3

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Frozen)
	assert.Contains(t, report.BlockedReason, "regime shifts")
	assert.Empty(t, fx.weights.saved)
}

func TestRunFrozenDuringExtremeVolatility(t *testing.T) {
	current, asOf := neutralWeights("fundamental", "technical")
	weights := &fakeWeightRepo{current: current, asOf: asOf}
	regime := &fakeRegimeSource{reading: RegimeReading{Regime: RegimeHighVolatility, Confidence: 0.95, VIX: 41}}
	fx := newLoopFixture(&fakePerfSource{winRate: 50, trades: 80}, weights, regime)

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Frozen)
	assert.Contains(t, report.BlockedReason, "VIX")
	assert.Empty(t, fx.weights.saved)
}

func TestRunRecordsRegimeShiftAndCorrects(t *testing.T) {
	current, asOf := neutralWeights("fundamental", "technical")
	weights := &fakeWeightRepo{current: current, asOf: asOf}
	regime := &fakeRegimeSource{reading: RegimeReading{Regime: RegimeBearMarket, Confidence: 0.85, Reasoning: "SPY under trend"}}
	fx := newLoopFixture(&fakePerfSource{winRate: 50, trades: 80}, weights, regime)
	fx.config.values[db.KeyCurrentRegime] = string(RegimeNormal)

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)

	shifts := fx.eventLog.ofType(db.EventRegimeShift)
	require.Len(t, shifts, 1)
	assert.Contains(t, shifts[0].Reasoning, "NORMAL -> BEAR_MARKET")
	assert.Contains(t, fx.publisher.subjects, events.SubjectRegimeShift)
	assert.Equal(t, string(RegimeBearMarket), fx.config.values[db.KeyCurrentRegime])

	// The regime transition itself reads as blindness risk, a MEDIUM finding
	// that still clears the default confidence gate.
	require.Len(t, report.Findings, 1)
	assert.Equal(t, BiasRegimeBlindness, report.Findings[0].Bias)
	assert.True(t, report.Applied)
	assert.NotEmpty(t, fx.eventLog.ofType(db.EventBiasDetected))
	assert.NotEmpty(t, fx.eventLog.ofType(db.EventCorrectionApplied))
}

func TestRunActiveFreezeHoldsAgentWeight(t *testing.T) {
	// "hot" would drift up on perfect performance but sits under an active
	// freeze; "steady" is tuned so its proposal equals its old weight, which
	// keeps the vector sum exact and normalization a no-op.
	weights := &fakeWeightRepo{
		current: map[string]float64{"hot": 1.2, "steady": 0.8},
		asOf:    map[string]float64{"hot": 1.2, "steady": 0.8},
	}
	perf := &fakePerfSource{
		overrides: map[string]map[int]db.AgentPerformance{
			"hot": {
				7:  {WindowDays: 7, WinRate: 100, Trades: 80},
				30: {WindowDays: 30, WinRate: 100, Trades: 80},
				90: {WindowDays: 90, WinRate: 100, Trades: 80},
			},
			"steady": {
				7:  {WindowDays: 7, WinRate: 40, Trades: 80},
				30: {WindowDays: 30, WinRate: 40, Trades: 80},
				90: {WindowDays: 90, WinRate: 40, Trades: 80},
			},
		},
	}
	fx := newLoopFixture(perf, weights, nil)
	fx.eventLog.freezes = map[string]time.Time{"hot": time.Now().Add(48 * time.Hour)}

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Applied)

	require.Len(t, fx.weights.saved, 1)
	byName := map[string]float64{}
	for _, row := range fx.weights.saved[0] {
		byName[row.AgentName] = row.Weight
	}
	assert.InDelta(t, 1.2, byName["hot"], 1e-9)
	assert.InDelta(t, 0.8, byName["steady"], 1e-9)
}

func TestRunActiveFreezeSurvivesNormalization(t *testing.T) {
	// "steady" proposes upward on perfect performance (capped at 0.88), so
	// the vector sums to 2.08 and has to be rescaled back to 2.0. The frozen
	// agent must hold exactly 1.2 with the whole rescale landing on "steady".
	weights := &fakeWeightRepo{
		current: map[string]float64{"hot": 1.2, "steady": 0.8},
		asOf:    map[string]float64{"hot": 1.2, "steady": 0.8},
	}
	perf := &fakePerfSource{
		overrides: map[string]map[int]db.AgentPerformance{
			"hot": {
				7:  {WindowDays: 7, WinRate: 100, Trades: 80},
				30: {WindowDays: 30, WinRate: 100, Trades: 80},
				90: {WindowDays: 90, WinRate: 100, Trades: 80},
			},
			"steady": {
				7:  {WindowDays: 7, WinRate: 100, Trades: 80},
				30: {WindowDays: 30, WinRate: 100, Trades: 80},
				90: {WindowDays: 90, WinRate: 100, Trades: 80},
			},
		},
	}
	fx := newLoopFixture(perf, weights, nil)
	fx.eventLog.freezes = map[string]time.Time{"hot": time.Now().Add(48 * time.Hour)}

	report, err := fx.loop.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Applied)

	require.Len(t, fx.weights.saved, 1)
	byName := map[string]float64{}
	for _, row := range fx.weights.saved[0] {
		byName[row.AgentName] = row.Weight
	}
	assert.Equal(t, 1.2, byName["hot"])
	assert.InDelta(t, 0.8, byName["steady"], 1e-9)
}

func TestManualOverrideRejectsOutOfBounds(t *testing.T) {
	fx := newLoopFixture(nil, &fakeWeightRepo{current: map[string]float64{"a": 1.0}}, nil)

	err := fx.loop.ManualOverride(context.Background(), "a", 2.5, "pump it")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")
	assert.Empty(t, fx.weights.saved)
}

func TestManualOverrideUnknownAgent(t *testing.T) {
	fx := newLoopFixture(nil, &fakeWeightRepo{current: map[string]float64{"a": 1.0}}, nil)

	err := fx.loop.ManualOverride(context.Background(), "ghost", 1.1, "typo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestManualOverrideAppliesAndAudits(t *testing.T) {
	weights := &fakeWeightRepo{current: map[string]float64{"fundamental": 1.0}}
	fx := newLoopFixture(nil, weights, nil)

	err := fx.loop.ManualOverride(context.Background(), "fundamental", 1.4, "earnings season emphasis")
	require.NoError(t, err)

	require.Len(t, fx.weights.saved, 1)
	require.Len(t, fx.weights.saved[0], 1)
	assert.Equal(t, 1.4, fx.weights.saved[0][0].Weight)

	updates := fx.eventLog.ofType(db.EventWeightUpdate)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].ConfidenceLevel)
	assert.Equal(t, 1.0, *updates[0].ConfidenceLevel)
	assert.Contains(t, updates[0].Reasoning, "Manual override")

	require.Len(t, fx.notifier.payloads, 1)
	assert.Equal(t, 1.4, fx.notifier.payloads[0].NewValue)
}

func TestTimeframeWeightsFromConfig(t *testing.T) {
	fx := newLoopFixture(nil, &fakeWeightRepo{}, nil)
	ctx := context.Background()

	assert.Equal(t, defaultTimeframeWeights, fx.loop.timeframeWeights(ctx))

	fx.config.values[db.KeyTimeframeWeights] = "0.2, 0.5, 0.3"
	assert.Equal(t, map[int]float64{7: 0.2, 30: 0.5, 90: 0.3}, fx.loop.timeframeWeights(ctx))

	fx.config.values[db.KeyTimeframeWeights] = "0.5,0.5"
	assert.Equal(t, defaultTimeframeWeights, fx.loop.timeframeWeights(ctx))

	fx.config.values[db.KeyTimeframeWeights] = "a,b,c"
	assert.Equal(t, defaultTimeframeWeights, fx.loop.timeframeWeights(ctx))
}
