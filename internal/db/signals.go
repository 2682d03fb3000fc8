package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// SignalStore persists trading signals and their per-agent analyses
type SignalStore struct {
	pool Pool
}

// NewSignalStore creates a signal store
func NewSignalStore(pool Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalColumns = `id, ticker, signal_type, confidence, entry_price, target_price,
	stop_loss, share_count, status, run_label, notes, created_at, executed_at, closed_at, pnl`

// SaveWithAnalyses persists a signal and its agent analyses in one
// transaction, so readers never observe a signal without its analyses.
// Deduplication key is (ticker, run date, run label); a duplicate returns
// ErrDuplicateSignal and writes nothing.
func (s *SignalStore) SaveWithAnalyses(ctx context.Context, signal *StoredSignal, analyses []AgentAnalysis) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if signal.Status == "" {
		signal.Status = StatusPending
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now()
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO signals (ticker, signal_type, confidence, entry_price, target_price,
			stop_loss, share_count, status, run_label, notes, created_at, run_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (ticker, run_date, run_label) DO NOTHING
		RETURNING id`,
		signal.Ticker, signal.SignalType, signal.Confidence, signal.EntryPrice,
		signal.TargetPrice, signal.StopLoss, signal.ShareCount, signal.Status,
		signal.RunLabel, signal.Notes, signal.CreatedAt, signal.CreatedAt.Format("2006-01-02"),
	).Scan(&signal.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicateSignal
		}
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	for i := range analyses {
		analyses[i].SignalID = signal.ID
		factorsJSON, err := json.Marshal(analyses[i].Factors)
		if err != nil {
			return fmt.Errorf("failed to marshal factors: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO agent_analyses (signal_id, agent_name, recommendation, confidence, reasoning, factors_snapshot)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			analyses[i].SignalID, analyses[i].AgentName, analyses[i].Recommendation,
			analyses[i].Confidence, analyses[i].Reasoning, factorsJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert agent analysis: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit signal: %w", err)
	}

	log.Info().
		Int64("signal_id", signal.ID).
		Str("ticker", signal.Ticker).
		Str("signal_type", string(signal.SignalType)).
		Int("confidence", signal.Confidence).
		Int("analyses", len(analyses)).
		Msg("Signal persisted")

	return nil
}

// Get loads one signal by id
func (s *SignalStore) Get(ctx context.Context, id int64) (*StoredSignal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	signal, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load signal %d: %w", id, err)
	}
	return signal, nil
}

// ListByStatus returns signals in the given statuses created within the last
// sinceDays days, newest first.
func (s *SignalStore) ListByStatus(ctx context.Context, statuses []SignalStatus, sinceDays int) ([]StoredSignal, error) {
	cutoff := time.Now().AddDate(0, 0, -sinceDays)
	rows, err := s.pool.Query(ctx, `
		SELECT `+signalColumns+`
		FROM signals
		WHERE status = ANY($1) AND created_at >= $2
		ORDER BY created_at DESC`,
		statuses, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// ListBuySignalsInWindow returns BUY signals created inside [start, end],
// oldest first, for backtesting.
func (s *SignalStore) ListBuySignalsInWindow(ctx context.Context, start, end time.Time, tickers []string) ([]StoredSignal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE signal_type = 'BUY' AND created_at >= $1 AND created_at <= $2`
	args := []interface{}{start, end}
	if len(tickers) > 0 {
		query += ` AND ticker = ANY($3)`
		args = append(args, tickers)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// Analyses loads the agent analyses attached to a signal
func (s *SignalStore) Analyses(ctx context.Context, signalID int64) ([]AgentAnalysis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, signal_id, agent_name, recommendation, confidence, reasoning, factors_snapshot
		FROM agent_analyses WHERE signal_id = $1 ORDER BY id`,
		signalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load analyses: %w", err)
	}
	defer rows.Close()

	var analyses []AgentAnalysis
	for rows.Next() {
		var a AgentAnalysis
		var factorsJSON []byte
		if err := rows.Scan(&a.ID, &a.SignalID, &a.AgentName, &a.Recommendation, &a.Confidence, &a.Reasoning, &factorsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		if len(factorsJSON) > 0 {
			if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
			}
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

// Approve advances PENDING -> APPROVED. Re-approving an APPROVED signal is a
// no-op; any other state is a transition error.
func (s *SignalStore) Approve(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusPending, StatusApproved,
		`UPDATE signals SET status = $1 WHERE id = $2 AND status = $3`)
}

// Execute advances APPROVED -> EXECUTED and stamps executed_at
func (s *SignalStore) Execute(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusApproved, StatusExecuted,
		`UPDATE signals SET status = $1, executed_at = NOW() WHERE id = $2 AND status = $3`)
}

// Close advances EXECUTED -> CLOSED, stamping closed_at and the final pnl.
// Once closed, pnl is immutable.
func (s *SignalStore) Close(ctx context.Context, id int64, pnl float64) error {
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return fmt.Errorf("close requires a finite pnl, got %v", pnl)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET status = $1, closed_at = NOW(), pnl = $2 WHERE id = $3 AND status = $4`,
		StatusClosed, pnl, id, StatusExecuted,
	)
	if err != nil {
		return fmt.Errorf("failed to close signal %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		log.Info().Int64("signal_id", id).Float64("pnl", pnl).Msg("Signal closed")
		return nil
	}
	return s.explainTransitionFailure(ctx, id, StatusClosed)
}

// transition performs one guarded status advance
func (s *SignalStore) transition(ctx context.Context, id int64, from, to SignalStatus, query string) error {
	tag, err := s.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition signal %d to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 1 {
		log.Info().Int64("signal_id", id).Str("status", string(to)).Msg("Signal status advanced")
		return nil
	}
	return s.explainTransitionFailure(ctx, id, to)
}

// explainTransitionFailure distinguishes not-found, idempotent re-advance,
// and genuine regression attempts.
func (s *SignalStore) explainTransitionFailure(ctx context.Context, id int64, target SignalStatus) error {
	var current SignalStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM signals WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read signal %d status: %w", id, err)
	}
	if current == target {
		// Concurrent advance to the same state is idempotent.
		return nil
	}
	return fmt.Errorf("%w: signal %d is %s, cannot move to %s", ErrInvalidTransition, id, current, target)
}

// AgentPerformance computes the rolling win statistics for one agent over a
// trailing window of closed signals. BUY wins on positive pnl, SELL on
// negative, HOLD when |pnl| stays under 5.
func (s *SignalStore) AgentPerformance(ctx context.Context, agentName string, windowDays int) (AgentPerformance, error) {
	cutoff := time.Now().AddDate(0, 0, -windowDays)
	perf := AgentPerformance{AgentName: agentName, WindowDays: windowDays}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE
				(aa.recommendation IN ('BUY', 'STRONG_BUY') AND s.pnl > 0)
				OR (aa.recommendation IN ('SELL', 'STRONG_SELL') AND s.pnl < 0)
				OR (aa.recommendation = 'HOLD' AND ABS(s.pnl) < 5)),
			COUNT(*)
		FROM signals s
		JOIN agent_analyses aa ON aa.signal_id = s.id
		WHERE aa.agent_name = $1 AND s.status = 'CLOSED' AND s.closed_at >= $2`,
		agentName, cutoff,
	).Scan(&perf.Wins, &perf.Trades)
	if err != nil {
		return perf, fmt.Errorf("failed to compute performance for %s: %w", agentName, err)
	}

	if perf.Trades > 0 {
		perf.WinRate = float64(perf.Wins) / float64(perf.Trades) * 100
	}
	return perf, nil
}

func scanSignal(row pgx.Row) (*StoredSignal, error) {
	var sig StoredSignal
	err := row.Scan(&sig.ID, &sig.Ticker, &sig.SignalType, &sig.Confidence,
		&sig.EntryPrice, &sig.TargetPrice, &sig.StopLoss, &sig.ShareCount,
		&sig.Status, &sig.RunLabel, &sig.Notes, &sig.CreatedAt,
		&sig.ExecutedAt, &sig.ClosedAt, &sig.PnL)
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

func scanSignals(rows pgx.Rows) ([]StoredSignal, error) {
	var signals []StoredSignal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, *sig)
	}
	return signals, rows.Err()
}
