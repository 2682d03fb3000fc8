package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// BacktestStore persists backtest runs and their simulated trades
type BacktestStore struct {
	pool Pool
}

// NewBacktestStore creates a backtest store
func NewBacktestStore(pool Pool) *BacktestStore {
	return &BacktestStore{pool: pool}
}

// SaveRun persists a run summary and its trades in one transaction
func (s *BacktestStore) SaveRun(ctx context.Context, run *BacktestRun, trades []BacktestTrade) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_results (id, start_date, end_date, allocation_mode, starting_capital,
			hold_period_days, total_pnl, win_rate, profit_factor, sharpe_ratio, max_drawdown, total_trades, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())`,
		run.ID, run.StartDate, run.EndDate, run.AllocationMode, run.StartingCapital,
		run.HoldPeriodDays, run.TotalPnL, run.WinRate, run.ProfitFactor,
		run.SharpeRatio, run.MaxDrawdown, run.TotalTrades,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backtest run: %w", err)
	}

	for _, t := range trades {
		_, err = tx.Exec(ctx, `
			INSERT INTO backtest_trades (backtest_id, signal_id, ticker, entry_date, exit_date,
				entry_price, exit_price, shares, pnl, pnl_pct, result, days_held, exit_reason,
				position_type, allocation_pct)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			run.ID, t.SignalID, t.Ticker, t.EntryDate, t.ExitDate,
			t.EntryPrice, t.ExitPrice, t.Shares, t.PnL, t.PnLPct, t.Result,
			t.DaysHeld, t.ExitReason, t.PositionType, t.AllocationPct,
		)
		if err != nil {
			return fmt.Errorf("failed to insert backtest trade: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit backtest run: %w", err)
	}

	log.Info().
		Str("backtest_id", run.ID.String()).
		Int("trades", len(trades)).
		Float64("total_pnl", run.TotalPnL).
		Msg("Backtest run persisted")

	return nil
}

// GetRun loads one run summary by id
func (s *BacktestStore) GetRun(ctx context.Context, id uuid.UUID) (*BacktestRun, error) {
	var run BacktestRun
	err := s.pool.QueryRow(ctx, `
		SELECT id, start_date, end_date, allocation_mode, starting_capital, hold_period_days,
			total_pnl, win_rate, profit_factor, sharpe_ratio, max_drawdown, total_trades, created_at
		FROM backtest_results WHERE id = $1`,
		id,
	).Scan(&run.ID, &run.StartDate, &run.EndDate, &run.AllocationMode, &run.StartingCapital,
		&run.HoldPeriodDays, &run.TotalPnL, &run.WinRate, &run.ProfitFactor,
		&run.SharpeRatio, &run.MaxDrawdown, &run.TotalTrades, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load backtest run: %w", err)
	}
	return &run, nil
}

// Trades loads the trades of one run in entry-date order
func (s *BacktestStore) Trades(ctx context.Context, backtestID uuid.UUID) ([]BacktestTrade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, backtest_id, signal_id, ticker, entry_date, exit_date, entry_price, exit_price,
			shares, pnl, pnl_pct, result, days_held, exit_reason, position_type, allocation_pct
		FROM backtest_trades WHERE backtest_id = $1 ORDER BY entry_date, id`,
		backtestID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load backtest trades: %w", err)
	}
	defer rows.Close()

	var trades []BacktestTrade
	for rows.Next() {
		var t BacktestTrade
		if err := rows.Scan(&t.ID, &t.BacktestID, &t.SignalID, &t.Ticker, &t.EntryDate, &t.ExitDate,
			&t.EntryPrice, &t.ExitPrice, &t.Shares, &t.PnL, &t.PnLPct, &t.Result,
			&t.DaysHeld, &t.ExitReason, &t.PositionType, &t.AllocationPct); err != nil {
			return nil, fmt.Errorf("failed to scan backtest trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
