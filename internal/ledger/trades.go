package ledger

import (
	"context"
	"fmt"
	"time"

	"crypto-trading-bot/internal/types"
)

// CreateTrade appends a confirmed fill to the trade journal.
func (s *Store) CreateTrade(ctx context.Context, t *types.Trade) error {
	if t.Ts.IsZero() {
		t.Ts = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (symbol, side, qty, price, fee, order_id, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Symbol, t.Side, t.Qty, t.Price, t.Fee, t.OrderID, t.Ts)
	if err != nil {
		return fmt.Errorf("create trade %s %s: %w", t.Side, t.Symbol, err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// TradesSince returns trades at or after since, oldest first.
func (s *Store) TradesSince(ctx context.Context, since time.Time) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, side, qty, price, fee, order_id, ts
		 FROM trades WHERE ts >= ? ORDER BY ts`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Qty, &t.Price, &t.Fee, &t.OrderID, &t.Ts); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
