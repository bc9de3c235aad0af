package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crypto-trading-bot/internal/types"
)

// CreateSignal appends one indicator snapshot.
func (s *Store) CreateSignal(ctx context.Context, sig *types.Signal) error {
	if sig.GeneratedAt.IsZero() {
		sig.GeneratedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (symbol, ema_short, ema_long, rsi, score, cadence_hours, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.Symbol, sig.EMAShort, sig.EMALong, sig.RSI, sig.Score, sig.CadenceHours, sig.GeneratedAt)
	if err != nil {
		return fmt.Errorf("create signal %s: %w", sig.Symbol, err)
	}
	sig.ID, _ = res.LastInsertId()
	return nil
}

// LatestSignal returns the most recent signal for symbol, or (nil, nil).
func (s *Store) LatestSignal(ctx context.Context, symbol string) (*types.Signal, error) {
	var sig types.Signal
	err := s.db.QueryRowContext(ctx,
		`SELECT id, symbol, ema_short, ema_long, rsi, score, cadence_hours, generated_at
		 FROM signals WHERE symbol = ? ORDER BY generated_at DESC, id DESC LIMIT 1`, symbol).
		Scan(&sig.ID, &sig.Symbol, &sig.EMAShort, &sig.EMALong, &sig.RSI, &sig.Score, &sig.CadenceHours, &sig.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest signal %s: %w", symbol, err)
	}
	return &sig, nil
}
