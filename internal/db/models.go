package db

import (
	"time"

	"github.com/google/uuid"
)

// SignalType is the persisted recommendation class. STRONG_BUY and
// STRONG_SELL are coalesced into BUY/SELL before storage.
type SignalType string

const (
	SignalTypeBuy  SignalType = "BUY"
	SignalTypeSell SignalType = "SELL"
	SignalTypeHold SignalType = "HOLD"
)

// SignalStatus is the lifecycle state of a stored signal
type SignalStatus string

const (
	StatusPending  SignalStatus = "PENDING"
	StatusApproved SignalStatus = "APPROVED"
	StatusExecuted SignalStatus = "EXECUTED"
	StatusClosed   SignalStatus = "CLOSED"
)

// StoredSignal is one persisted trading decision
type StoredSignal struct {
	ID          int64        `json:"id"`
	Ticker      string       `json:"ticker"`
	SignalType  SignalType   `json:"signal_type"`
	Confidence  int          `json:"confidence"` // bucketed 1..5
	EntryPrice  float64      `json:"entry_price"`
	TargetPrice float64      `json:"target_price"`
	StopLoss    float64      `json:"stop_loss"`
	ShareCount  int          `json:"share_count"`
	Status      SignalStatus `json:"status"`
	RunLabel    string       `json:"run_label"`
	Notes       string       `json:"notes"`
	CreatedAt   time.Time    `json:"created_at"`
	ExecutedAt  *time.Time   `json:"executed_at,omitempty"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
	PnL         *float64     `json:"pnl,omitempty"`
}

// AgentAnalysis is one agent's contribution to a stored signal
type AgentAnalysis struct {
	ID             int64              `json:"id"`
	SignalID       int64              `json:"signal_id"`
	AgentName      string             `json:"agent_name"`
	Recommendation string             `json:"recommendation"`
	Confidence     int                `json:"confidence"` // bucketed 1..5
	Reasoning      string             `json:"reasoning"`
	Factors        map[string]float64 `json:"factors"`
}

// AgentWeight is one append-only weight history row. The current weight for
// an agent is its latest row by date.
type AgentWeight struct {
	AgentName string    `json:"agent_name"`
	Date      time.Time `json:"date"`
	Weight    float64   `json:"weight"`
	WinRate7  float64   `json:"win_rate_7d"`
	WinRate30 float64   `json:"win_rate_30d"`
	WinRate90 float64   `json:"win_rate_90d"`
	Trades7   int       `json:"trades_7d"`
	Trades30  int       `json:"trades_30d"`
	Trades90  int       `json:"trades_90d"`
}

// LearningEventType categorizes learning audit rows
type LearningEventType string

const (
	EventWeightUpdate      LearningEventType = "WEIGHT_UPDATE"
	EventBiasDetected      LearningEventType = "BIAS_DETECTED"
	EventCorrectionApplied LearningEventType = "CORRECTION_APPLIED"
	EventRegimeShift       LearningEventType = "REGIME_SHIFT"
	EventFreeze            LearningEventType = "FREEZE"
	EventAlert             LearningEventType = "ALERT"
)

// LearningEvent is one append-only learning audit row
type LearningEvent struct {
	ID              int64             `json:"id"`
	Date            time.Time         `json:"date"`
	EventType       LearningEventType `json:"event_type"`
	AgentName       *string           `json:"agent_name,omitempty"`
	OldValue        *float64          `json:"old_value,omitempty"`
	NewValue        *float64          `json:"new_value,omitempty"`
	BiasType        *string           `json:"bias_type,omitempty"`
	Reasoning       string            `json:"reasoning"`
	ConfidenceLevel *float64          `json:"confidence_level,omitempty"`
}

// BacktestRun is the stored summary of one backtest execution
type BacktestRun struct {
	ID              uuid.UUID `json:"id"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	AllocationMode  string    `json:"allocation_mode"`
	StartingCapital float64   `json:"starting_capital"`
	HoldPeriodDays  int       `json:"hold_period_days"`
	TotalPnL        float64   `json:"total_pnl"`
	WinRate         float64   `json:"win_rate"`
	ProfitFactor    float64   `json:"profit_factor"`
	SharpeRatio     float64   `json:"sharpe_ratio"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	TotalTrades     int       `json:"total_trades"`
	CreatedAt       time.Time `json:"created_at"`
}

// BacktestTrade is one simulated trade within a backtest run
type BacktestTrade struct {
	ID            int64     `json:"id"`
	BacktestID    uuid.UUID `json:"backtest_id"`
	SignalID      int64     `json:"signal_id"`
	Ticker        string    `json:"ticker"`
	EntryDate     time.Time `json:"entry_date"`
	ExitDate      time.Time `json:"exit_date"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	Shares        int       `json:"shares"`
	PnL           float64   `json:"pnl"`
	PnLPct        float64   `json:"pnl_pct"`
	Result        string    `json:"result"` // WIN or LOSS
	DaysHeld      int       `json:"days_held"`
	ExitReason    string    `json:"exit_reason"`    // STOP_LOSS, TAKE_PROFIT, HOLD_PERIOD_END
	PositionType  string    `json:"position_type"`  // CORE, SATELLITE, EQUAL
	AllocationPct float64   `json:"allocation_pct"` // fraction of capital allocated
}

// AgentPerformance is a rolling win-rate snapshot for one agent and window
type AgentPerformance struct {
	AgentName  string  `json:"agent_name"`
	WindowDays int     `json:"window_days"`
	Wins       int     `json:"wins"`
	Trades     int     `json:"trades"`
	WinRate    float64 `json:"win_rate"` // percentage, 0 when no trades
}
