package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// WeightStore persists the append-only agent weight history
type WeightStore struct {
	pool Pool
}

// NewWeightStore creates a weight store
func NewWeightStore(pool Pool) *WeightStore {
	return &WeightStore{pool: pool}
}

// CurrentWeights returns the latest weight row per agent
func (s *WeightStore) CurrentWeights(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (agent_name) agent_name, weight
		FROM agent_weights_history
		ORDER BY agent_name, date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load current weights: %w", err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var name string
		var weight float64
		if err := rows.Scan(&name, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan weight: %w", err)
		}
		weights[name] = weight
	}
	return weights, rows.Err()
}

// SaveWeights appends one weight row per agent for the given date in a single
// transaction. Re-running for the same date is a no-op per agent, which makes
// the daily optimization idempotent.
func (s *WeightStore) SaveWeights(ctx context.Context, date time.Time, weights []AgentWeight) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	day := date.Format("2006-01-02")
	inserted := 0
	for _, w := range weights {
		tag, err := tx.Exec(ctx, `
			INSERT INTO agent_weights_history
				(agent_name, date, weight, win_rate_7d, win_rate_30d, win_rate_90d, trades_7d, trades_30d, trades_90d)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (agent_name, date) DO NOTHING`,
			w.AgentName, day, w.Weight, w.WinRate7, w.WinRate30, w.WinRate90, w.Trades7, w.Trades30, w.Trades90,
		)
		if err != nil {
			return fmt.Errorf("failed to insert weight for %s: %w", w.AgentName, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit weights: %w", err)
	}

	log.Info().
		Str("date", day).
		Int("agents", len(weights)).
		Int("inserted", inserted).
		Msg("Agent weights persisted")

	return nil
}

// History returns up to days of weight rows for one agent, newest first
func (s *WeightStore) History(ctx context.Context, agentName string, days int) ([]AgentWeight, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	rows, err := s.pool.Query(ctx, `
		SELECT agent_name, date, weight, win_rate_7d, win_rate_30d, win_rate_90d, trades_7d, trades_30d, trades_90d
		FROM agent_weights_history
		WHERE agent_name = $1 AND date >= $2
		ORDER BY date DESC`,
		agentName, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load weight history: %w", err)
	}
	defer rows.Close()

	var history []AgentWeight
	for rows.Next() {
		var w AgentWeight
		if err := rows.Scan(&w.AgentName, &w.Date, &w.Weight, &w.WinRate7, &w.WinRate30, &w.WinRate90, &w.Trades7, &w.Trades30, &w.Trades90); err != nil {
			return nil, fmt.Errorf("failed to scan weight row: %w", err)
		}
		history = append(history, w)
	}
	return history, rows.Err()
}

// WeightAsOf returns the agent's weight as of the given date (the latest row
// on or before it). Returns ErrNotFound when no row exists.
func (s *WeightStore) WeightAsOf(ctx context.Context, agentName string, date time.Time) (float64, error) {
	var weight float64
	err := s.pool.QueryRow(ctx, `
		SELECT weight FROM agent_weights_history
		WHERE agent_name = $1 AND date <= $2
		ORDER BY date DESC LIMIT 1`,
		agentName, date.Format("2006-01-02"),
	).Scan(&weight)
	if err != nil {
		return 0, ErrNotFound
	}
	return weight, nil
}
