package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// LearningLogStore persists the append-only learning audit trail
type LearningLogStore struct {
	pool Pool
}

// NewLearningLogStore creates a learning log store
func NewLearningLogStore(pool Pool) *LearningLogStore {
	return &LearningLogStore{pool: pool}
}

// Append writes one learning event
func (s *LearningLogStore) Append(ctx context.Context, event LearningEvent) error {
	if event.Date.IsZero() {
		event.Date = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO learning_log (date, event_type, agent_name, old_value, new_value, bias_type, reasoning, confidence_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.Date, event.EventType, event.AgentName, event.OldValue,
		event.NewValue, event.BiasType, event.Reasoning, event.ConfidenceLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to append learning event: %w", err)
	}

	log.Debug().
		Str("event_type", string(event.EventType)).
		Str("reasoning", event.Reasoning).
		Msg("Learning event recorded")

	return nil
}

// List returns events of the given types within the trailing window, newest
// first. An empty types slice returns all events.
func (s *LearningLogStore) List(ctx context.Context, types []LearningEventType, sinceDays int) ([]LearningEvent, error) {
	cutoff := time.Now().AddDate(0, 0, -sinceDays)

	query := `
		SELECT id, date, event_type, agent_name, old_value, new_value, bias_type, reasoning, confidence_level
		FROM learning_log WHERE date >= $1`
	args := []interface{}{cutoff}
	if len(types) > 0 {
		query += ` AND event_type = ANY($2)`
		args = append(args, types)
	}
	query += ` ORDER BY date DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list learning events: %w", err)
	}
	defer rows.Close()

	var events []LearningEvent
	for rows.Next() {
		var e LearningEvent
		if err := rows.Scan(&e.ID, &e.Date, &e.EventType, &e.AgentName, &e.OldValue, &e.NewValue, &e.BiasType, &e.Reasoning, &e.ConfidenceLevel); err != nil {
			return nil, fmt.Errorf("failed to scan learning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountRegimeShifts counts REGIME_SHIFT events inside the trailing window
func (s *LearningLogStore) CountRegimeShifts(ctx context.Context, sinceDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -sinceDays)
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM learning_log WHERE event_type = 'REGIME_SHIFT' AND date >= $1`,
		cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count regime shifts: %w", err)
	}
	return count, nil
}

// ActiveFreezeUntil returns the expiry of the most recent FREEZE event for an
// agent, or the zero time when none is active.
func (s *LearningLogStore) ActiveFreezeUntil(ctx context.Context, agentName string, freezeDays int) (time.Time, error) {
	var frozenAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT date FROM learning_log
		WHERE event_type = 'FREEZE' AND agent_name = $1
		ORDER BY date DESC LIMIT 1`,
		agentName,
	).Scan(&frozenAt)
	if err != nil {
		return time.Time{}, nil
	}
	return frozenAt.AddDate(0, 0, freezeDays), nil
}
