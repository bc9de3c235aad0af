// Package paper implements an in-memory exchange for dry runs and tests.
// Prices are deterministic per symbol, balances live in a map, and limit
// orders fill after one pending status poll so the execution loop exercises
// its full lifecycle without a live venue.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/types"
)

type paperOrder struct {
	id        string
	symbol    string
	side      string
	qty       float64
	price     float64
	market    bool
	status    types.OrderStatus
	filledQty float64
	avgPrice  float64
	fee       float64
	polls     int
	openedAt  time.Time
}

// Exchange is a simulated venue. All state is process-local.
type Exchange struct {
	mu         sync.Mutex
	balances   map[string]float64
	orders     map[string]*paperOrder
	seq        int64
	takerFee   float64 // fraction, e.g. 0.001
	fillPolls  int     // pending polls before a limit order fills
	quoteAsset string
}

var _ interfaces.Exchange = (*Exchange)(nil)

// New creates a paper exchange funded with the given free balances.
// takerFeePct is in percent, matching the risk config.
func New(quoteAsset string, initialBalances map[string]float64, takerFeePct float64) *Exchange {
	balances := make(map[string]float64, len(initialBalances))
	for asset, free := range initialBalances {
		balances[asset] = free
	}
	return &Exchange{
		balances:   balances,
		orders:     make(map[string]*paperOrder),
		takerFee:   takerFeePct / 100,
		fillPolls:  1,
		quoteAsset: quoteAsset,
	}
}

func splitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid symbol %q", symbol)
	}
	return parts[0], parts[1], nil
}

// priceAt returns the deterministic price for a symbol at a candle bucket.
// Each symbol gets its own base level and a slow oscillation so windows can
// show both uptrends and drawdowns.
func priceAt(symbol string, bucket int64) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	base := 10 + float64(h.Sum32()%9000)/10
	b := float64(bucket)
	return base * (1 + 0.05*math.Sin(b/7) + 0.01*math.Sin(b/2))
}

// OHLCV returns deterministic candles, oldest first, ending at the current
// interval bucket.
func (e *Exchange) OHLCV(ctx context.Context, symbol string, intervalHours, limit int) ([]types.Candle, error) {
	if _, _, err := splitSymbol(symbol); err != nil {
		return nil, err
	}
	if intervalHours <= 0 {
		intervalHours = 1
	}
	if limit <= 0 {
		limit = 100
	}
	intervalSec := int64(intervalHours) * 3600
	nowBucket := time.Now().Unix() / intervalSec

	candles := make([]types.Candle, 0, limit)
	for i := int64(limit) - 1; i >= 0; i-- {
		bucket := nowBucket - i
		open := priceAt(symbol, bucket-1)
		close := priceAt(symbol, bucket)
		high := math.Max(open, close) * 1.002
		low := math.Min(open, close) * 0.998
		candles = append(candles, types.Candle{
			Ts:    bucket * intervalSec,
			Open:  open,
			High:  high,
			Low:   low,
			Close: close,
			Vol:   1000,
		})
	}
	return candles, nil
}

// Ticker quotes the symbol at its current deterministic price with a fixed
// 0.1% spread.
func (e *Exchange) Ticker(ctx context.Context, symbol string) (types.Ticker, error) {
	if _, _, err := splitSymbol(symbol); err != nil {
		return types.Ticker{}, err
	}
	now := time.Now()
	last := priceAt(symbol, now.Unix()/3600)
	return types.Ticker{
		Symbol: symbol,
		Bid:    last * 0.9995,
		Ask:    last * 1.0005,
		Last:   last,
		Ts:     now.Unix(),
	}, nil
}

// Balance returns the free balance for one asset, zero if unknown.
func (e *Exchange) Balance(ctx context.Context, asset string) (types.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.Balance{Asset: asset, Free: e.balances[asset]}, nil
}

// AllBalances returns every non-zero asset balance.
func (e *Exchange) AllBalances(ctx context.Context) ([]types.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	balances := make([]types.Balance, 0, len(e.balances))
	for asset, free := range e.balances {
		if free <= 0 {
			continue
		}
		balances = append(balances, types.Balance{Asset: asset, Free: free})
	}
	return balances, nil
}

func (e *Exchange) nextID() string {
	e.seq++
	return fmt.Sprintf("paper-%d", e.seq)
}

// PlaceLimitOrder records a pending order. It fills on a later status poll.
func (e *Exchange) PlaceLimitOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if _, _, err := splitSymbol(req.Symbol); err != nil {
		return types.OrderResp{}, err
	}
	if req.Qty <= 0 || req.Price <= 0 {
		return types.OrderResp{}, fmt.Errorf("invalid limit order: qty=%f price=%f", req.Qty, req.Price)
	}
	if err := e.checkFunds(req, req.Price); err != nil {
		return types.OrderResp{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	order := &paperOrder{
		id:       e.nextID(),
		symbol:   req.Symbol,
		side:     req.Side,
		qty:      req.Qty,
		price:    req.Price,
		status:   types.OrderPending,
		openedAt: time.Now(),
	}
	e.orders[order.id] = order
	logger.Debug(ctx, "Paper limit order placed", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "price", req.Price, "order_id", order.id)
	return types.OrderResp{OrderID: order.id, Status: types.OrderPending}, nil
}

// PlaceMarketOrder fills immediately at the current price.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ticker, err := e.Ticker(ctx, req.Symbol)
	if err != nil {
		return types.OrderResp{}, err
	}
	if req.Qty <= 0 {
		return types.OrderResp{}, fmt.Errorf("invalid market order: qty=%f", req.Qty)
	}
	price := ticker.Ask
	if req.Side == types.SideSell {
		price = ticker.Bid
	}
	if err := e.checkFunds(req, price); err != nil {
		return types.OrderResp{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	order := &paperOrder{
		id:       e.nextID(),
		symbol:   req.Symbol,
		side:     req.Side,
		qty:      req.Qty,
		price:    price,
		market:   true,
		status:   types.OrderPending,
		openedAt: time.Now(),
	}
	e.fill(order, price)
	e.orders[order.id] = order
	logger.Debug(ctx, "Paper market order filled", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "price", price, "order_id", order.id)
	return types.OrderResp{OrderID: order.id, Status: types.OrderFilled}, nil
}

// checkFunds verifies the balance backing a new order.
func (e *Exchange) checkFunds(req types.OrderReq, price float64) error {
	base, quote, err := splitSymbol(req.Symbol)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch req.Side {
	case types.SideBuy:
		needed := req.Qty * price
		if e.balances[quote] < needed {
			return fmt.Errorf("insufficient %s balance: have %.8f, need %.8f", quote, e.balances[quote], needed)
		}
	case types.SideSell:
		if e.balances[base] < req.Qty {
			return fmt.Errorf("insufficient %s balance: have %.8f, need %.8f", base, e.balances[base], req.Qty)
		}
	default:
		return fmt.Errorf("invalid order side %q", req.Side)
	}
	return nil
}

// fill settles an order against the balance map. Caller holds the lock.
func (e *Exchange) fill(order *paperOrder, price float64) {
	base, quote, _ := splitSymbol(order.symbol)
	notional := order.qty * price
	fee := notional * e.takerFee
	if order.side == types.SideBuy {
		e.balances[quote] -= notional + fee
		e.balances[base] += order.qty
	} else {
		e.balances[base] -= order.qty
		e.balances[quote] += notional - fee
	}
	order.status = types.OrderFilled
	order.filledQty = order.qty
	order.avgPrice = price
	order.fee = fee
}

// CancelOrder cancels a pending order. Cancelling an already filled order
// fails, mirroring the race a live venue reports.
func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	if order.status == types.OrderFilled {
		return fmt.Errorf("order %s already filled", orderID)
	}
	if order.status == types.OrderCancelled {
		return nil
	}
	order.status = types.OrderCancelled
	logger.Debug(ctx, "Paper order cancelled", "symbol", symbol, "order_id", orderID)
	return nil
}

// OrderStatus reports an order's state. Pending limit orders fill after
// fillPolls status checks.
func (e *Exchange) OrderStatus(ctx context.Context, symbol, orderID string) (types.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[orderID]
	if !ok {
		return types.OrderState{}, fmt.Errorf("unknown order %s", orderID)
	}
	if order.status == types.OrderPending && !order.market {
		order.polls++
		if order.polls > e.fillPolls {
			e.fill(order, order.price)
		}
	}
	return types.OrderState{
		OrderID:   order.id,
		Symbol:    order.symbol,
		Side:      order.side,
		Status:    order.status,
		Qty:       order.qty,
		FilledQty: order.filledQty,
		AvgPrice:  order.avgPrice,
		Fee:       order.fee,
	}, nil
}

// LotSizeInfo returns fixed permissive constraints.
func (e *Exchange) LotSizeInfo(ctx context.Context, symbol string) (types.LotSizeInfo, error) {
	if _, _, err := splitSymbol(symbol); err != nil {
		return types.LotSizeInfo{}, err
	}
	return types.LotSizeInfo{
		Symbol:      symbol,
		StepSize:    0.0001,
		MinQty:      0.0001,
		MinNotional: 5,
	}, nil
}

// OpenOrders lists pending orders, optionally filtered by symbol.
func (e *Exchange) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var open []types.OpenOrder
	for _, order := range e.orders {
		if order.status != types.OrderPending {
			continue
		}
		if symbol != "" && order.symbol != symbol {
			continue
		}
		open = append(open, types.OpenOrder{
			OrderID:   order.id,
			Symbol:    order.symbol,
			Side:      order.side,
			Qty:       order.qty,
			Remaining: order.qty - order.filledQty,
			Price:     order.price,
			OpenedAt:  order.openedAt,
			Status:    order.status,
		})
	}
	return open, nil
}

// SetFillPolls overrides how many pending polls a limit order survives.
// Used by tests to exercise timeout paths.
func (e *Exchange) SetFillPolls(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fillPolls = n
}
