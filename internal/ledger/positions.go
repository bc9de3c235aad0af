package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crypto-trading-bot/internal/types"
)

// CreatePosition inserts a new position row and backfills its id.
func (s *Store) CreatePosition(ctx context.Context, p *types.Position) error {
	if p.BotID == "" {
		p.BotID = s.botID
	}
	if p.Status == "" {
		p.Status = types.PositionOpen
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (bot_id, symbol, qty, entry_price, status, opened_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.BotID, p.Symbol, p.Qty, p.EntryPrice, p.Status, p.OpenedAt)
	if err != nil {
		return fmt.Errorf("create position %s: %w", p.Symbol, err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

// OpenPositions returns all open positions for this bot.
func (s *Store) OpenPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bot_id, symbol, qty, entry_price, status, opened_at
		 FROM positions WHERE bot_id = ? AND status = ? ORDER BY opened_at`,
		s.botID, types.PositionOpen)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var p types.Position
		if err := rows.Scan(&p.ID, &p.BotID, &p.Symbol, &p.Qty, &p.EntryPrice, &p.Status, &p.OpenedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OpenPositionBySymbol returns the open position for symbol, or (nil, nil)
// if there is none.
func (s *Store) OpenPositionBySymbol(ctx context.Context, symbol string) (*types.Position, error) {
	var p types.Position
	err := s.db.QueryRowContext(ctx,
		`SELECT id, bot_id, symbol, qty, entry_price, status, opened_at
		 FROM positions WHERE bot_id = ? AND symbol = ? AND status = ?
		 ORDER BY opened_at DESC LIMIT 1`,
		s.botID, symbol, types.PositionOpen).
		Scan(&p.ID, &p.BotID, &p.Symbol, &p.Qty, &p.EntryPrice, &p.Status, &p.OpenedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open position %s: %w", symbol, err)
	}
	return &p, nil
}

// UpdatePositionQty corrects the recorded quantity of a position.
func (s *Store) UpdatePositionQty(ctx context.Context, id int64, qty float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET qty = ? WHERE id = ?`, qty, id)
	if err != nil {
		return fmt.Errorf("update position %d qty: %w", id, err)
	}
	return nil
}

// ClosePosition marks a position closed at the given time.
func (s *Store) ClosePosition(ctx context.Context, id int64, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET status = ?, closed_at = ? WHERE id = ?`,
		types.PositionClosed, closedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("close position %d: %w", id, err)
	}
	return nil
}
