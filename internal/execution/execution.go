// Package execution drives one allocator decision to a confirmed fill: a
// maker-biased limit order, fixed-interval polling, and a slippage-guarded
// market fallback on timeout.
package execution

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/store"
	"crypto-trading-bot/internal/ta"
	"crypto-trading-bot/internal/types"
)

// Journal receives best-effort copies of confirmed fills. May be nil.
type Journal interface {
	RecordTrade(t types.Trade)
}

// sellBalanceEpsilon is the absolute floor of the sell-balance tolerance.
const sellBalanceEpsilon = 1e-8

// Executor is the order execution state machine. One Execute call owns one
// decision end to end; different symbols may execute concurrently on
// different workers.
type Executor struct {
	exchange interfaces.Exchange
	ledger   interfaces.Ledger
	alerter  interfaces.Alerter
	journal  Journal
	cfg      *store.Config

	pollInterval time.Duration
	fillTimeout  time.Duration
}

var _ interfaces.Executor = (*Executor)(nil)

// New creates an executor. journal may be nil.
func New(exchange interfaces.Exchange, ledger interfaces.Ledger, alerter interfaces.Alerter, journal Journal, cfg *store.Config) *Executor {
	return &Executor{
		exchange:     exchange,
		ledger:       ledger,
		alerter:      alerter,
		journal:      journal,
		cfg:          cfg,
		pollInterval: time.Duration(cfg.Execution.PollSeconds) * time.Second,
		fillTimeout:  time.Duration(cfg.Execution.FillTimeoutMinutes) * time.Minute,
	}
}

// fill is one confirmed execution slice (limit fill, partial, or fallback).
type fill struct {
	qty     float64
	price   float64
	fee     float64
	orderID string
}

// Execute runs the decision to completion. Fatal errors alert and are
// returned; a later cycle re-decides.
func (e *Executor) Execute(ctx context.Context, d types.Decision) error {
	if err := e.execute(ctx, d); err != nil {
		logger.ErrorWithErr(ctx, "Order execution failed", err, "symbol", d.Symbol, "side", d.Side, "qty", d.Qty)
		e.alerter.Notify(ctx, interfaces.AlertOrderFailure, d.Symbol, err.Error())
		return err
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, d types.Decision) error {
	lot, err := e.exchange.LotSizeInfo(ctx, d.Symbol)
	if err != nil {
		return fmt.Errorf("lot size for %s: %w", d.Symbol, err)
	}

	qty := ta.RoundToStep(d.Qty, lot.StepSize)
	if qty <= 0 {
		return fmt.Errorf("quantity %.8f rounds to zero at step %.8f", d.Qty, lot.StepSize)
	}

	if d.Side == types.SideSell {
		if err := e.checkSellBalance(ctx, d.Symbol, qty); err != nil {
			return err
		}
	}

	ticker, err := e.exchange.Ticker(ctx, d.Symbol)
	if err != nil {
		return fmt.Errorf("quote for %s: %w", d.Symbol, err)
	}

	limitPrice := e.makerPrice(ticker, d.Side)
	if limitPrice <= 0 {
		return fmt.Errorf("non-positive limit price for %s", d.Symbol)
	}

	req := types.OrderReq{
		Symbol:   d.Symbol,
		Side:     d.Side,
		Qty:      qty,
		Price:    limitPrice,
		ClientID: time.Now().UnixMilli(),
	}
	resp, err := e.exchange.PlaceLimitOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("place limit order for %s: %w", d.Symbol, err)
	}
	logger.Info(ctx, "Limit order placed", "symbol", d.Symbol, "side", d.Side, "qty", qty, "price", limitPrice, "order_id", resp.OrderID)

	state, filled, err := e.pollOrder(ctx, d.Symbol, resp.OrderID)
	if err != nil {
		return err
	}

	var fills []fill
	if filled {
		fills = append(fills, fillFromState(state, limitPrice, qty))
		return e.settle(ctx, d, fills)
	}

	// Timed out. Cancel, then fall back to a market order. A cancel that
	// fails because the order filled in the meantime is a fill, not an
	// error.
	if cancelErr := e.exchange.CancelOrder(ctx, d.Symbol, resp.OrderID); cancelErr != nil {
		recheck, recheckErr := e.exchange.OrderStatus(ctx, d.Symbol, resp.OrderID)
		if recheckErr == nil && recheck.Status == types.OrderFilled {
			logger.Info(ctx, "Cancel raced a fill, processing fill", "symbol", d.Symbol, "order_id", resp.OrderID)
			fills = append(fills, fillFromState(recheck, limitPrice, qty))
			return e.settle(ctx, d, fills)
		}
		return fmt.Errorf("cancel timed-out order %s for %s: %w", resp.OrderID, d.Symbol, cancelErr)
	}

	// A partial fill before cancellation is a confirmed trade; the market
	// fallback covers only the remainder.
	remaining := qty
	if state.FilledQty > 0 {
		fills = append(fills, fillFromState(state, limitPrice, state.FilledQty))
		remaining = ta.RoundToStep(qty-state.FilledQty, lot.StepSize)
		if remaining <= 0 {
			return e.settle(ctx, d, fills)
		}
	}

	fresh, err := e.exchange.Ticker(ctx, d.Symbol)
	if err != nil {
		return fmt.Errorf("fresh quote before fallback for %s: %w", d.Symbol, err)
	}
	freshPrice := fresh.Ask
	if d.Side == types.SideSell {
		freshPrice = fresh.Bid
	}
	slippage := math.Abs(freshPrice-limitPrice) / limitPrice * 100
	if slippage > e.cfg.Execution.MaxSlippagePct {
		return fmt.Errorf("slippage %.2f%% exceeds max %.2f%%, no fallback placed for %s", slippage, e.cfg.Execution.MaxSlippagePct, d.Symbol)
	}

	marketResp, err := e.exchange.PlaceMarketOrder(ctx, types.OrderReq{
		Symbol:   d.Symbol,
		Side:     d.Side,
		Qty:      remaining,
		ClientID: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("market fallback for %s: %w", d.Symbol, err)
	}
	logger.Info(ctx, "Market fallback placed", "symbol", d.Symbol, "side", d.Side, "qty", remaining, "order_id", marketResp.OrderID)

	if err := e.sleep(ctx, e.pollInterval); err != nil {
		return err
	}
	marketState, err := e.exchange.OrderStatus(ctx, d.Symbol, marketResp.OrderID)
	if err != nil {
		return fmt.Errorf("market fallback status for %s: %w", d.Symbol, err)
	}
	if marketState.Status != types.OrderFilled {
		return fmt.Errorf("market fallback %s for %s not filled: %s", marketResp.OrderID, d.Symbol, marketState.Status)
	}
	fills = append(fills, fillFromState(marketState, freshPrice, remaining))
	return e.settle(ctx, d, fills)
}

// checkSellBalance verifies the free base balance covers the rounded
// quantity within tolerance. Insufficient balance is fatal, not retried.
func (e *Executor) checkSellBalance(ctx context.Context, symbol string, qty float64) error {
	base := symbol
	if i := strings.Index(symbol, "-"); i > 0 {
		base = symbol[:i]
	}
	balance, err := e.exchange.Balance(ctx, base)
	if err != nil {
		return fmt.Errorf("balance for %s: %w", base, err)
	}
	tolerance := math.Max(qty*0.0001, sellBalanceEpsilon)
	if balance.Free+tolerance < qty {
		return fmt.Errorf("insufficient %s balance for sell: have %.8f, need %.8f", base, balance.Free, qty)
	}
	return nil
}

// makerPrice offsets the limit price toward the maker side of the book.
func (e *Executor) makerPrice(t types.Ticker, side string) float64 {
	offset := e.cfg.Execution.MakerOffsetPct / 100
	if side == types.SideBuy {
		return t.Ask * (1 - offset)
	}
	return t.Bid * (1 + offset)
}

// pollOrder polls at a fixed interval until the order fills or the fill
// timeout elapses. Transient status errors are logged and polling continues.
func (e *Executor) pollOrder(ctx context.Context, symbol, orderID string) (types.OrderState, bool, error) {
	deadline := time.Now().Add(e.fillTimeout)
	var last types.OrderState
	for time.Now().Before(deadline) {
		if err := e.sleep(ctx, e.pollInterval); err != nil {
			return last, false, err
		}
		state, err := e.exchange.OrderStatus(ctx, symbol, orderID)
		if err != nil {
			logger.Warn(ctx, "Order status poll failed, retrying", "symbol", symbol, "order_id", orderID, "error", err)
			continue
		}
		last = state
		switch state.Status {
		case types.OrderFilled:
			return state, true, nil
		case types.OrderCancelled:
			return state, false, fmt.Errorf("order %s for %s cancelled externally", orderID, symbol)
		}
	}
	logger.Warn(ctx, "Fill timeout reached", "symbol", symbol, "order_id", orderID, "filled_qty", last.FilledQty)
	return last, false, nil
}

// sleep waits for d or returns early when ctx is cancelled.
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fillFromState builds a fill from exchange-reported numbers, falling back
// to the request's price and quantity when the exchange omits them.
func fillFromState(state types.OrderState, fallbackPrice, fallbackQty float64) fill {
	f := fill{
		qty:     state.FilledQty,
		price:   state.AvgPrice,
		fee:     state.Fee,
		orderID: state.OrderID,
	}
	if f.qty <= 0 {
		f.qty = fallbackQty
	}
	if f.price <= 0 {
		f.price = fallbackPrice
	}
	return f
}

// settle records trades for each fill and applies the net position change.
func (e *Executor) settle(ctx context.Context, d types.Decision, fills []fill) error {
	var totalQty, totalValue, totalFee float64
	now := time.Now().UTC()
	for _, f := range fills {
		trade := &types.Trade{
			Symbol:  d.Symbol,
			Side:    d.Side,
			Qty:     f.qty,
			Price:   f.price,
			Fee:     f.fee,
			OrderID: f.orderID,
			Ts:      now,
		}
		if err := e.ledger.CreateTrade(ctx, trade); err != nil {
			return fmt.Errorf("record trade for %s: %w", d.Symbol, err)
		}
		logger.Trade(ctx, d.Symbol, d.Side, f.qty, f.price, f.fee, f.orderID, "reason", d.Reason)
		if e.journal != nil {
			e.journal.RecordTrade(*trade)
		}
		totalQty += f.qty
		totalValue += f.qty * f.price
		totalFee += f.fee
	}
	if totalQty <= 0 {
		return fmt.Errorf("no filled quantity to settle for %s", d.Symbol)
	}
	avgPrice := totalValue / totalQty

	if d.Side == types.SideBuy {
		return e.settleBuy(ctx, d.Symbol, totalQty, avgPrice)
	}
	return e.settleSell(ctx, d.Symbol, totalQty)
}

// settleBuy creates the open position, or tops up an existing one if a
// concurrent cycle already created it.
func (e *Executor) settleBuy(ctx context.Context, symbol string, qty, price float64) error {
	existing, err := e.ledger.OpenPositionBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("find open position for %s: %w", symbol, err)
	}
	if existing != nil {
		logger.Warn(ctx, "Open position already exists, merging quantity", "symbol", symbol, "existing_qty", existing.Qty, "added_qty", qty)
		return e.ledger.UpdatePositionQty(ctx, existing.ID, existing.Qty+qty)
	}
	return e.ledger.CreatePosition(ctx, &types.Position{
		BotID:      e.cfg.BotID,
		Symbol:     symbol,
		Qty:        qty,
		EntryPrice: price,
		Status:     types.PositionOpen,
		OpenedAt:   time.Now().UTC(),
	})
}

// settleSell closes the matching open position, or shrinks it when only
// part of the quantity sold.
func (e *Executor) settleSell(ctx context.Context, symbol string, qty float64) error {
	pos, err := e.ledger.OpenPositionBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("find open position for %s: %w", symbol, err)
	}
	if pos == nil {
		logger.Warn(ctx, "Sell filled with no matching open position", "symbol", symbol, "qty", qty)
		return nil
	}
	tolerance := math.Max(pos.Qty*0.0001, sellBalanceEpsilon)
	if qty+tolerance >= pos.Qty {
		return e.ledger.ClosePosition(ctx, pos.ID, time.Now().UTC())
	}
	return e.ledger.UpdatePositionQty(ctx, pos.ID, pos.Qty-qty)
}
