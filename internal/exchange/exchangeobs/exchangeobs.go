// Package exchangeobs wraps an Exchange with tracing and logging so the
// adapters themselves stay free of observability concerns.
package exchangeobs

import (
	"context"
	"time"

	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/trace"
	"crypto-trading-bot/internal/types"
)

type obsExchange struct {
	inner interfaces.Exchange
}

// Wrap decorates an Exchange with spans and structured logs per call.
func Wrap(inner interfaces.Exchange) interfaces.Exchange {
	return &obsExchange{inner: inner}
}

func (o *obsExchange) OHLCV(ctx context.Context, symbol string, intervalHours, limit int) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.OHLCV")
	defer span.End()

	start := time.Now()
	candles, err := o.inner.OHLCV(ctx, symbol, intervalHours, limit)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "OHLCV fetch failed", err, "symbol", symbol)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "OHLCV fetched", "symbol", symbol, "candles", len(candles), "duration", time.Since(start))
	return candles, nil
}

func (o *obsExchange) Ticker(ctx context.Context, symbol string) (types.Ticker, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.Ticker")
	defer span.End()

	ticker, err := o.inner.Ticker(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Ticker fetch failed", err, "symbol", symbol)
		return types.Ticker{}, err
	}
	logger.DebugSkip(ctx, 1, "Ticker fetched", "symbol", symbol, "bid", ticker.Bid, "ask", ticker.Ask)
	return ticker, nil
}

func (o *obsExchange) Balance(ctx context.Context, asset string) (types.Balance, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.Balance")
	defer span.End()

	balance, err := o.inner.Balance(ctx, asset)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Balance fetch failed", err, "asset", asset)
		return types.Balance{}, err
	}
	return balance, nil
}

func (o *obsExchange) AllBalances(ctx context.Context) ([]types.Balance, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.AllBalances")
	defer span.End()

	balances, err := o.inner.AllBalances(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Balances fetch failed", err)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Balances fetched", "assets", len(balances))
	return balances, nil
}

func (o *obsExchange) PlaceLimitOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.PlaceLimitOrder")
	defer span.End()

	resp, err := o.inner.PlaceLimitOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Limit order failed", err, "symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "price", req.Price)
		return types.OrderResp{}, err
	}
	logger.InfoSkip(ctx, 1, "Limit order placed", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "price", req.Price, "order_id", resp.OrderID)
	return resp, nil
}

func (o *obsExchange) PlaceMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.PlaceMarketOrder")
	defer span.End()

	resp, err := o.inner.PlaceMarketOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Market order failed", err, "symbol", req.Symbol, "side", req.Side, "qty", req.Qty)
		return types.OrderResp{}, err
	}
	logger.InfoSkip(ctx, 1, "Market order placed", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "order_id", resp.OrderID)
	return resp, nil
}

func (o *obsExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	ctx, span := trace.StartSpan(ctx, "exchange.CancelOrder")
	defer span.End()

	if err := o.inner.CancelOrder(ctx, symbol, orderID); err != nil {
		logger.WarnSkip(ctx, 1, "Cancel failed", "symbol", symbol, "order_id", orderID, "error", err)
		return err
	}
	logger.InfoSkip(ctx, 1, "Order cancelled", "symbol", symbol, "order_id", orderID)
	return nil
}

func (o *obsExchange) OrderStatus(ctx context.Context, symbol, orderID string) (types.OrderState, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.OrderStatus")
	defer span.End()

	state, err := o.inner.OrderStatus(ctx, symbol, orderID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Order status failed", err, "symbol", symbol, "order_id", orderID)
		return types.OrderState{}, err
	}
	logger.DebugSkip(ctx, 1, "Order status", "symbol", symbol, "order_id", orderID, "status", string(state.Status), "filled", state.FilledQty)
	return state, nil
}

func (o *obsExchange) LotSizeInfo(ctx context.Context, symbol string) (types.LotSizeInfo, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.LotSizeInfo")
	defer span.End()

	info, err := o.inner.LotSizeInfo(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Lot size fetch failed", err, "symbol", symbol)
		return types.LotSizeInfo{}, err
	}
	return info, nil
}

func (o *obsExchange) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.OpenOrders")
	defer span.End()

	orders, err := o.inner.OpenOrders(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Open orders fetch failed", err, "symbol", symbol)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Open orders fetched", "symbol", symbol, "count", len(orders))
	return orders, nil
}
