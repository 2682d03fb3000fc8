package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// WatchlistStore manages the set of tickers the pipeline analyzes
type WatchlistStore struct {
	pool Pool
}

// NewWatchlistStore creates a watchlist store
func NewWatchlistStore(pool Pool) *WatchlistStore {
	return &WatchlistStore{pool: pool}
}

// ActiveTickers returns active watchlist symbols in alphabetical order
func (s *WatchlistStore) ActiveTickers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT ticker FROM watchlist WHERE active ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to load watchlist: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist row: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// Add inserts or reactivates a ticker
func (s *WatchlistStore) Add(ctx context.Context, ticker string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watchlist (ticker, active, added_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (ticker) DO UPDATE SET active = TRUE`,
		ticker,
	)
	if err != nil {
		return fmt.Errorf("failed to add %s to watchlist: %w", ticker, err)
	}
	log.Info().Str("ticker", ticker).Msg("Watchlist ticker added")
	return nil
}

// Deactivate soft-removes a ticker from the active set
func (s *WatchlistStore) Deactivate(ctx context.Context, ticker string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE watchlist SET active = FALSE WHERE ticker = $1`, ticker)
	if err != nil {
		return fmt.Errorf("failed to deactivate %s: %w", ticker, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	log.Info().Str("ticker", ticker).Msg("Watchlist ticker deactivated")
	return nil
}
