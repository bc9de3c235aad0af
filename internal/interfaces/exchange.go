package interfaces

import (
	"context"

	"crypto-trading-bot/internal/types"
)

// Exchange is the single pluggable adapter contract against one exchange.
type Exchange interface {
	OHLCV(ctx context.Context, symbol string, intervalHours, limit int) ([]types.Candle, error)
	Ticker(ctx context.Context, symbol string) (types.Ticker, error)
	Balance(ctx context.Context, asset string) (types.Balance, error)
	AllBalances(ctx context.Context) ([]types.Balance, error)
	PlaceLimitOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	PlaceMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OrderStatus(ctx context.Context, symbol, orderID string) (types.OrderState, error)
	LotSizeInfo(ctx context.Context, symbol string) (types.LotSizeInfo, error)
	OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error)
}
