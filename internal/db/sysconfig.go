package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// System config keys consumed by the learning loop
const (
	KeyAutoLearningEnabled  = "AUTO_LEARNING_ENABLED"
	KeyHumanReviewRequired  = "HUMAN_REVIEW_REQUIRED"
	KeyMinConfidenceForAuto = "MIN_CONFIDENCE_FOR_AUTO"
	KeyMaxWeightChangeDaily = "MAX_WEIGHT_CHANGE_DAILY"
	KeyWeightMinBound       = "WEIGHT_MIN_BOUND"
	KeyWeightMaxBound       = "WEIGHT_MAX_BOUND"
	KeyTimeframeWeights     = "LEARNING_TIMEFRAME_WEIGHTS"
	KeyFreezeDurationDays   = "FREEZE_DURATION_DAYS"
	KeyCurrentRegime        = "CURRENT_REGIME"
)

// SystemConfigStore reads and writes runtime configuration key/value pairs
type SystemConfigStore struct {
	pool Pool
}

// NewSystemConfigStore creates a system config store
func NewSystemConfigStore(pool Pool) *SystemConfigStore {
	return &SystemConfigStore{pool: pool}
}

// Get returns the raw value for a key, or ErrNotFound
func (s *SystemConfigStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_config WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read config key %s: %w", key, err)
	}
	return value, nil
}

// Set upserts a key/value pair
func (s *SystemConfigStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set config key %s: %w", key, err)
	}
	return nil
}

// GetBool returns a boolean key, falling back to def when unset or malformed
func (s *SystemConfigStore) GetBool(ctx context.Context, key string, def bool) bool {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// GetFloat returns a numeric key, falling back to def when unset or malformed
func (s *SystemConfigStore) GetFloat(ctx context.Context, key string, def float64) float64 {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// GetInt returns an integer key, falling back to def when unset or malformed
func (s *SystemConfigStore) GetInt(ctx context.Context, key string, def int) int {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
