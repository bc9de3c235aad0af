// Package allocator turns ranked signals into buy and sell decisions under
// position, cash, and risk constraints. It owns the strategy enabled flag
// and the in-process cooldown map.
package allocator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/store"
	"crypto-trading-bot/internal/ta"
	"crypto-trading-bot/internal/types"
)

// Decision reasons.
const (
	ReasonEntry      = "entry"
	ReasonTakeProfit = "take_profit"
	ReasonStopLoss   = "stop_loss"
	ReasonRebalance  = "rebalance"
)

// volMoveThresholdPct is the 24h move beyond which the loss threshold is
// scaled by the configured volatility adjustment factor.
const volMoveThresholdPct = 10.0

// SignalSource produces indicator bundles and persists signal snapshots.
type SignalSource interface {
	Snapshot(ctx context.Context, symbol string) (types.Indicators, error)
	Poll(ctx context.Context) error
}

// Allocator is the portfolio evaluation engine. Single-writer: one
// evaluation worker touches the cooldown map and enabled flag at a time.
type Allocator struct {
	exchange interfaces.Exchange
	ledger   interfaces.Ledger
	signals  SignalSource
	cfg      *store.Config

	mu        sync.Mutex
	enabled   bool
	cooldowns map[string]int
}

var _ interfaces.Evaluator = (*Allocator)(nil)

// New creates an allocator. The strategy starts enabled.
func New(exchange interfaces.Exchange, ledger interfaces.Ledger, signals SignalSource, cfg *store.Config) *Allocator {
	return &Allocator{
		exchange:  exchange,
		ledger:    ledger,
		signals:   signals,
		cfg:       cfg,
		enabled:   true,
		cooldowns: make(map[string]int),
	}
}

// SetEnabled toggles the strategy. Disabled halts evaluation and risk
// checks; in-flight executions complete.
func (a *Allocator) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// Enabled reports the strategy toggle.
func (a *Allocator) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// PollSignals snapshots and persists indicators for the whole universe.
func (a *Allocator) PollSignals(ctx context.Context) error {
	return a.signals.Poll(ctx)
}

// cooling reports whether a symbol is under re-buy cooldown.
func (a *Allocator) cooling(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cooldowns[symbol] > 0
}

// setCooldown starts the re-buy cooldown for a just-sold symbol.
func (a *Allocator) setCooldown(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cooldowns[symbol] = a.cfg.Strategy.CooldownCycles
}

// tickCooldowns decrements every cooldown once and drops expired entries.
func (a *Allocator) tickCooldowns() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for symbol, remaining := range a.cooldowns {
		remaining--
		if remaining <= 0 {
			delete(a.cooldowns, symbol)
		} else {
			a.cooldowns[symbol] = remaining
		}
	}
}

type rankedSignal struct {
	symbol string
	ind    types.Indicators
}

// passesEntryFilter applies the trend and RSI band filter plus the
// volatility pause.
func (a *Allocator) passesEntryFilter(ind types.Indicators) bool {
	if math.IsNaN(ind.EMAShort) || math.IsNaN(ind.EMALong) || math.IsNaN(ind.RSI) {
		return false
	}
	if ind.EMAShort <= ind.EMALong {
		return false
	}
	if ind.RSI < a.cfg.Strategy.RSILow || ind.RSI > a.cfg.Strategy.RSIHigh {
		return false
	}
	if math.Abs(ind.Change24h) > a.cfg.Strategy.VolatilityPause {
		return false
	}
	return true
}

// nav marks open positions at the current mid quote and adds the free and
// locked quote balance. Per-symbol quote failures are logged and omitted.
func (a *Allocator) nav(ctx context.Context, positions []types.Position) float64 {
	quote, err := a.exchange.Balance(ctx, a.cfg.Quote)
	if err != nil {
		logger.ErrorWithErr(ctx, "Quote balance fetch failed for NAV", err, "asset", a.cfg.Quote)
	}
	total := quote.Free + quote.Locked
	for _, p := range positions {
		ticker, err := a.exchange.Ticker(ctx, p.Symbol)
		if err != nil {
			logger.Warn(ctx, "Quote failed, omitting position from NAV", "symbol", p.Symbol, "error", err)
			continue
		}
		total += p.Value(ticker.Mid())
	}
	return total
}

// profitThreshold is the minimum profit before a take-profit exit fires:
// the largest of the flat floor, the percentage floor, and the fee-coverage
// floor over the position's entry value.
func (a *Allocator) profitThreshold(entryValue float64) float64 {
	feeFloor := (2*a.cfg.Risk.TakerFeePct + a.cfg.Risk.ProfitFeeBufferPct) / 100 * entryValue
	return math.Max(a.cfg.Risk.MinProfitUSD,
		math.Max(a.cfg.Risk.MinProfitPct/100*entryValue, feeFloor))
}

// lossThreshold is the loss magnitude that triggers a stop, scaled up when
// the symbol moved hard in the last 24h so normal volatility is not stopped
// out.
func (a *Allocator) lossThreshold(entryValue, change24h float64) float64 {
	volMult := 1.0
	if math.Abs(change24h) > volMoveThresholdPct && a.cfg.Risk.VolatilityAdjFactor > 1 {
		volMult = a.cfg.Risk.VolatilityAdjFactor
	}
	return math.Max(a.cfg.Risk.MaxLossUSD, a.cfg.Risk.MaxLossPct/100*volMult*entryValue)
}

// exitDecision applies the risk rules to one open position at the given
// price. Returns nil when the position should be held.
func (a *Allocator) exitDecision(p types.Position, price, change24h float64) *types.Decision {
	value := p.Value(price)
	if value < a.cfg.Risk.MinPositionValue {
		return nil
	}

	entryValue := p.EntryValue()
	profit := value - entryValue

	if threshold := a.profitThreshold(entryValue); profit >= threshold {
		roundTripFees := 2 * a.cfg.Risk.TakerFeePct / 100 * value
		if profit >= roundTripFees || profit >= 1.1*threshold {
			return &types.Decision{
				Symbol: p.Symbol,
				Side:   types.SideSell,
				Qty:    p.Qty,
				Price:  price,
				Reason: ReasonTakeProfit,
			}
		}
	}

	if profit <= -a.lossThreshold(entryValue, change24h) {
		return &types.Decision{
			Symbol: p.Symbol,
			Side:   types.SideSell,
			Qty:    p.Qty,
			Price:  price,
			Reason: ReasonStopLoss,
		}
	}
	return nil
}

// pendingOrders splits in-flight exchange orders into buy and sell symbol
// sets. An open-orders failure degrades to empty sets; the max-positions
// cap may transiently overshoot and reconciliation corrects it.
func (a *Allocator) pendingOrders(ctx context.Context) (buys, sells map[string]bool) {
	buys = make(map[string]bool)
	sells = make(map[string]bool)
	orders, err := a.exchange.OpenOrders(ctx, "")
	if err != nil {
		logger.Warn(ctx, "Open orders fetch failed, assuming none pending", "error", err)
		return buys, sells
	}
	for _, o := range orders {
		if o.Side == types.SideBuy {
			buys[o.Symbol] = true
		} else {
			sells[o.Symbol] = true
		}
	}
	return buys, sells
}

// RiskExits runs the independent risk check over open positions and emits
// sell decisions for breached thresholds.
func (a *Allocator) RiskExits(ctx context.Context) ([]types.Decision, error) {
	if !a.Enabled() {
		return nil, nil
	}
	positions, err := a.ledger.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	_, pendingSells := a.pendingOrders(ctx)

	var decisions []types.Decision
	for _, p := range positions {
		if pendingSells[p.Symbol] {
			continue
		}
		ticker, err := a.exchange.Ticker(ctx, p.Symbol)
		if err != nil {
			logger.Warn(ctx, "Ticker failed during risk check", "symbol", p.Symbol, "error", err)
			continue
		}
		change24h := a.change24h(ctx, p.Symbol)
		if d := a.exitDecision(p, ticker.Mid(), change24h); d != nil {
			logger.Risk(ctx, p.Symbol, d.Reason, "profit", p.Value(ticker.Mid())-p.EntryValue())
			a.setCooldown(p.Symbol)
			decisions = append(decisions, *d)
		}
	}
	return decisions, nil
}

// change24h fetches the symbol's 24h move for volatility scaling. Failures
// degrade to 0 (no scaling).
func (a *Allocator) change24h(ctx context.Context, symbol string) float64 {
	ind, err := a.signals.Snapshot(ctx, symbol)
	if err != nil {
		return 0
	}
	return ind.Change24h
}

// Evaluate runs one full allocation cycle: rank signals, exit breached and
// off-target positions, then size and emit entries against remaining cash.
func (a *Allocator) Evaluate(ctx context.Context) ([]types.Decision, error) {
	if !a.Enabled() {
		logger.Info(ctx, "Strategy disabled, skipping evaluation")
		return nil, nil
	}

	positions, err := a.ledger.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}

	nav := a.nav(ctx, positions)
	if nav < a.cfg.Strategy.MinBalanceUSD {
		logger.Warn(ctx, "NAV below minimum balance floor, skipping cycle", "nav", nav, "floor", a.cfg.Strategy.MinBalanceUSD)
		return nil, nil
	}

	a.tickCooldowns()

	// One indicator computation per symbol per cycle, shared by the entry
	// filter and the risk exits.
	indicators := make(map[string]types.Indicators)
	var ranked []rankedSignal
	for _, symbol := range a.cfg.Universe {
		ind, err := a.signals.Snapshot(ctx, symbol)
		if err != nil {
			logger.Warn(ctx, "Indicator computation failed, skipping symbol", "symbol", symbol, "error", err)
			continue
		}
		indicators[symbol] = ind
		if a.passesEntryFilter(ind) {
			ranked = append(ranked, rankedSignal{symbol: symbol, ind: ind})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ind.Score > ranked[j].ind.Score
	})

	pendingBuys, pendingSells := a.pendingOrders(ctx)

	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Symbol] = true
	}

	var decisions []types.Decision
	exited := make(map[string]bool)

	// Risk exits run first and are independent of ranking.
	for _, p := range positions {
		if pendingSells[p.Symbol] {
			continue
		}
		ticker, err := a.exchange.Ticker(ctx, p.Symbol)
		if err != nil {
			logger.Warn(ctx, "Ticker failed, skipping position this cycle", "symbol", p.Symbol, "error", err)
			continue
		}
		if d := a.exitDecision(p, ticker.Mid(), indicators[p.Symbol].Change24h); d != nil {
			logger.Decision(ctx, d.Symbol, d.Side, d.Qty, d.Reason)
			a.setCooldown(p.Symbol)
			decisions = append(decisions, *d)
			exited[p.Symbol] = true
		}
	}

	// The desired portfolio is the top-ranked passing symbols up to the
	// position cap; held symbols outside it are rotated out.
	desired := make(map[string]bool)
	for i, r := range ranked {
		if i >= a.cfg.Strategy.MaxPositions {
			break
		}
		desired[r.symbol] = true
	}
	for _, p := range positions {
		if exited[p.Symbol] || pendingSells[p.Symbol] || desired[p.Symbol] {
			continue
		}
		ticker, err := a.exchange.Ticker(ctx, p.Symbol)
		if err != nil {
			logger.Warn(ctx, "Ticker failed, skipping rebalance exit", "symbol", p.Symbol, "error", err)
			continue
		}
		d := types.Decision{
			Symbol: p.Symbol,
			Side:   types.SideSell,
			Qty:    p.Qty,
			Price:  ticker.Mid(),
			Reason: ReasonRebalance,
			Score:  indicators[p.Symbol].Score,
		}
		logger.Decision(ctx, d.Symbol, d.Side, d.Qty, d.Reason)
		a.setCooldown(p.Symbol)
		decisions = append(decisions, d)
		exited[p.Symbol] = true
	}

	// Entries fill the remaining slots from the ranking, sized against a
	// running cash counter.
	slots := a.cfg.Strategy.MaxPositions - (len(positions) + len(pendingBuys))
	if slots < 0 {
		slots = 0
	}

	quoteBalance, err := a.exchange.Balance(ctx, a.cfg.Quote)
	if err != nil {
		logger.ErrorWithErr(ctx, "Quote balance fetch failed, skipping entries", err, "asset", a.cfg.Quote)
		return decisions, nil
	}
	availableCash := quoteBalance.Free

	entries := 0
	for _, r := range ranked {
		if entries >= slots {
			break
		}
		symbol := r.symbol
		if held[symbol] || pendingBuys[symbol] {
			continue
		}
		if a.cooling(symbol) {
			logger.Info(ctx, "Symbol in cooldown, skipping entry", "symbol", symbol)
			continue
		}

		ticker, err := a.exchange.Ticker(ctx, symbol)
		if err != nil {
			logger.Warn(ctx, "Quote failed, skipping entry", "symbol", symbol, "error", err)
			continue
		}
		price := ticker.Mid()
		if price <= 0 {
			logger.Warn(ctx, "Non-positive quote, skipping entry", "symbol", symbol)
			continue
		}

		qty, value, reason := a.sizeEntry(ctx, symbol, price, nav, availableCash)
		if qty <= 0 {
			logger.Info(ctx, "Entry rejected", "symbol", symbol, "reason", reason)
			continue
		}

		d := types.Decision{
			Symbol: symbol,
			Side:   types.SideBuy,
			Qty:    qty,
			Price:  price,
			Reason: ReasonEntry,
			Score:  r.ind.Score,
		}
		logger.Decision(ctx, d.Symbol, d.Side, d.Qty, d.Reason, "score", r.ind.Score)
		decisions = append(decisions, d)
		availableCash -= value
		entries++
	}

	if len(decisions) == 0 {
		logger.Info(ctx, "Evaluation produced no decisions", "ranked", len(ranked), "open_positions", len(positions), "slots", slots)
	}
	return decisions, nil
}

// sizeEntry sizes a buy for the symbol at price. Returns the lot-rounded
// quantity and its value, or zero quantity with a rejection reason.
func (a *Allocator) sizeEntry(ctx context.Context, symbol string, price, nav, availableCash float64) (qty, value float64, reason string) {
	buffer := math.Max(0.30*availableCash, a.cfg.Strategy.CashBufferFloor)
	spendable := availableCash - buffer
	if spendable <= 0 {
		return 0, 0, "no cash after buffer"
	}

	allocation := nav * a.cfg.Strategy.MaxAllocFraction
	if allocation > spendable {
		allocation = spendable
	}
	if allocation < a.cfg.Strategy.MinOrderUSD {
		return 0, 0, fmt.Sprintf("allocation %.2f below min order %.2f", allocation, a.cfg.Strategy.MinOrderUSD)
	}

	lot, err := a.exchange.LotSizeInfo(ctx, symbol)
	if err != nil {
		return 0, 0, fmt.Sprintf("lot size fetch failed: %v", err)
	}

	qty = ta.RoundToStep(allocation/price, lot.StepSize)
	if qty <= 0 {
		return 0, 0, "quantity zero after lot rounding"
	}
	if lot.MinQty > 0 && qty < lot.MinQty {
		return 0, 0, fmt.Sprintf("quantity %.8f below exchange minimum %.8f", qty, lot.MinQty)
	}
	value = qty * price
	if lot.MinNotional > 0 && value < lot.MinNotional {
		return 0, 0, fmt.Sprintf("order value %.2f below exchange min notional %.2f", value, lot.MinNotional)
	}
	return qty, value, ""
}

// CooldownRemaining reports remaining cooldown cycles for a symbol. Zero
// means no cooldown.
func (a *Allocator) CooldownRemaining(symbol string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cooldowns[symbol]
}
