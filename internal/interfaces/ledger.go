package interfaces

import (
	"context"
	"time"

	"crypto-trading-bot/internal/types"
)

// PositionStore is the ledger contract for positions. Lookup methods return
// (nil, nil) when no row matches.
type PositionStore interface {
	CreatePosition(ctx context.Context, p *types.Position) error
	OpenPositions(ctx context.Context) ([]types.Position, error)
	OpenPositionBySymbol(ctx context.Context, symbol string) (*types.Position, error)
	UpdatePositionQty(ctx context.Context, id int64, qty float64) error
	ClosePosition(ctx context.Context, id int64, closedAt time.Time) error
}

// TradeStore is the append-only fill journal.
type TradeStore interface {
	CreateTrade(ctx context.Context, t *types.Trade) error
	TradesSince(ctx context.Context, since time.Time) ([]types.Trade, error)
}

// SignalStore persists one indicator snapshot per symbol per cycle.
type SignalStore interface {
	CreateSignal(ctx context.Context, s *types.Signal) error
	LatestSignal(ctx context.Context, symbol string) (*types.Signal, error)
}

// MetricStore is the append-only time-series store; the latest row per key
// is the current value.
type MetricStore interface {
	CreateMetric(ctx context.Context, m *types.Metric) error
	LatestMetric(ctx context.Context, key string) (*types.Metric, error)
	MetricHistory(ctx context.Context, key string, from, to time.Time) ([]types.Metric, error)
}

// Ledger aggregates the per-entity stores behind one handle.
type Ledger interface {
	PositionStore
	TradeStore
	SignalStore
	MetricStore
}
