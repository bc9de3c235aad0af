// Package reconciler converges the position ledger with exchange-reported
// balances, recomputes NAV and fee metrics, and sweeps stale orders. The
// exchange is authoritative; the ledger heals toward it.
package reconciler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/store"
	"crypto-trading-bot/internal/types"
)

const (
	// noiseTolerance is the relative quantity difference treated as float
	// noise rather than drift.
	noiseTolerance = 1e-8
	// churnTolerance caps how large a relative quantity correction may be
	// written silently; beyond it the run alerts instead of writing.
	churnTolerance = 0.25
	// dustUSD is the value floor below which a residual balance counts as
	// dust and its position is closed.
	dustUSD = 1.0
	// dustQtyFloor is the per-asset minimum quantity always treated as dust.
	dustQtyFloor = 1e-8
	// pnlLookback bounds the trade window used for the daily FIFO summary.
	pnlLookback = 7 * 24 * time.Hour
)

// assetAliases maps exchange-specific asset codes to their canonical form.
var assetAliases = map[string]string{
	"XBT": "BTC",
}

// Reconciler is the balance-sync and drift-closing engine.
type Reconciler struct {
	exchange interfaces.Exchange
	ledger   interfaces.Ledger
	alerter  interfaces.Alerter
	cfg      *store.Config
}

var _ interfaces.Reconciler = (*Reconciler)(nil)

// New creates a reconciler.
func New(exchange interfaces.Exchange, ledger interfaces.Ledger, alerter interfaces.Alerter, cfg *store.Config) *Reconciler {
	return &Reconciler{
		exchange: exchange,
		ledger:   ledger,
		alerter:  alerter,
		cfg:      cfg,
	}
}

// normalizeAsset strips exchange wrapper prefixes and maps known aliases.
func normalizeAsset(asset string) string {
	normalized := strings.ToUpper(asset)
	// Binance earn balances carry an LD prefix over the raw asset code.
	if len(normalized) > 2 && strings.HasPrefix(normalized, "LD") {
		normalized = normalized[2:]
	}
	if canonical, ok := assetAliases[normalized]; ok {
		normalized = canonical
	}
	return normalized
}

// resolveSymbol finds a tradable symbol for a held asset: the universe
// mapping first, then the normalized code, then the synthetic pair. The
// first candidate with a fetchable quote wins.
func (r *Reconciler) resolveSymbol(ctx context.Context, asset string) (string, types.Ticker, bool) {
	normalized := normalizeAsset(asset)

	var candidates []string
	for _, symbol := range r.cfg.Universe {
		base := symbol
		if i := strings.Index(symbol, "-"); i > 0 {
			base = symbol[:i]
		}
		if base == asset || base == normalized {
			candidates = append(candidates, symbol)
			break
		}
	}
	candidates = append(candidates, normalized+"-"+r.cfg.Quote)
	if raw := strings.ToUpper(asset); raw != normalized {
		candidates = append(candidates, raw+"-"+r.cfg.Quote)
	}

	seen := make(map[string]bool)
	for _, symbol := range candidates {
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		ticker, err := r.exchange.Ticker(ctx, symbol)
		if err != nil || ticker.Mid() <= 0 {
			continue
		}
		return symbol, ticker, true
	}
	return "", types.Ticker{}, false
}

// Reconcile runs one full pass: phase A balance sync, phase B drift
// closing, then NAV/fee metrics and threshold alerts. A failed or empty
// balance fetch aborts the whole run with zero mutations.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	balances, err := r.exchange.AllBalances(ctx)
	if err != nil {
		r.alerter.Notify(ctx, interfaces.AlertExchangeUnreachable, "", fmt.Sprintf("balance fetch failed: %v", err))
		return fmt.Errorf("balance fetch failed, aborting reconciliation: %w", err)
	}
	if len(balances) == 0 {
		return fmt.Errorf("balance fetch returned no assets, aborting reconciliation")
	}

	justCreated := r.syncBalances(ctx, balances)
	r.closeDrifted(ctx, balances, justCreated)
	r.writeMetrics(ctx, balances)
	return nil
}

// syncBalances is phase A: every held non-quote asset must be tracked by an
// open position. Returns the symbols created this pass.
func (r *Reconciler) syncBalances(ctx context.Context, balances []types.Balance) map[string]bool {
	justCreated := make(map[string]bool)
	for _, b := range balances {
		total := b.Free + b.Locked
		if total <= 0 || normalizeAsset(b.Asset) == strings.ToUpper(r.cfg.Quote) {
			continue
		}

		symbol, ticker, ok := r.resolveSymbol(ctx, b.Asset)
		if !ok {
			logger.Warn(ctx, "No tradable symbol for held asset, skipping", "asset", b.Asset)
			continue
		}

		pos, err := r.ledger.OpenPositionBySymbol(ctx, symbol)
		if err != nil {
			logger.ErrorWithErr(ctx, "Position lookup failed during balance sync", err, "symbol", symbol)
			continue
		}

		if pos == nil {
			// An on-exchange balance must always be tracked for NAV
			// accuracy, even beyond the max-positions cap.
			created := &types.Position{
				BotID:      r.cfg.BotID,
				Symbol:     symbol,
				Qty:        total,
				EntryPrice: ticker.Mid(),
				Status:     types.PositionOpen,
				OpenedAt:   time.Now().UTC(),
			}
			if err := r.ledger.CreatePosition(ctx, created); err != nil {
				logger.ErrorWithErr(ctx, "Failed to adopt unmatched balance", err, "symbol", symbol)
				continue
			}
			justCreated[symbol] = true
			logger.Info(ctx, "Adopted unmatched exchange balance", "symbol", symbol, "qty", total, "estimated_entry", ticker.Mid())
			continue
		}

		diff := math.Abs(total - pos.Qty)
		if pos.Qty > 0 && diff/pos.Qty <= noiseTolerance {
			continue
		}
		if pos.Qty > 0 && diff/pos.Qty > churnTolerance {
			r.alerter.Notify(ctx, interfaces.AlertJobFailure, symbol,
				fmt.Sprintf("balance drift %.8f vs ledger %.8f exceeds churn tolerance, not corrected", total, pos.Qty))
			logger.Warn(ctx, "Drift beyond churn tolerance, alerting instead of writing", "symbol", symbol, "ledger_qty", pos.Qty, "exchange_qty", total)
			continue
		}
		if err := r.ledger.UpdatePositionQty(ctx, pos.ID, total); err != nil {
			logger.ErrorWithErr(ctx, "Quantity correction failed", err, "symbol", symbol)
			continue
		}
		logger.Info(ctx, "Corrected position quantity from exchange balance", "symbol", symbol, "old_qty", pos.Qty, "new_qty", total)
	}
	return justCreated
}

// closeDrifted is phase B: ledger positions whose exchange balance has
// evaporated are closed. Just-created positions and those with a pending
// sell are skipped.
func (r *Reconciler) closeDrifted(ctx context.Context, balances []types.Balance, justCreated map[string]bool) {
	positions, err := r.ledger.OpenPositions(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Open positions load failed during drift check", err)
		return
	}

	pendingSells := r.pendingSells(ctx)

	byAsset := make(map[string]float64)
	for _, b := range balances {
		byAsset[strings.ToUpper(b.Asset)] += b.Free + b.Locked
	}

	for _, pos := range positions {
		if justCreated[pos.Symbol] {
			continue
		}
		if pendingSells[pos.Symbol] {
			logger.Debug(ctx, "Pending sell, skipping drift close", "symbol", pos.Symbol)
			continue
		}

		base := pos.Symbol
		if i := strings.Index(pos.Symbol, "-"); i > 0 {
			base = pos.Symbol[:i]
		}
		held := math.Max(byAsset[strings.ToUpper(base)], byAsset[normalizeAsset(base)])

		if held >= r.dustQty(ctx, pos) {
			continue
		}
		if err := r.ledger.ClosePosition(ctx, pos.ID, time.Now().UTC()); err != nil {
			logger.ErrorWithErr(ctx, "Drift close failed", err, "symbol", pos.Symbol)
			continue
		}
		logger.Info(ctx, "Closed drifted position, exchange balance gone", "symbol", pos.Symbol, "ledger_qty", pos.Qty, "exchange_qty", held)
	}
}

// dustQty converts the dust value floor to a quantity at the current quote,
// falling back to the entry price when no quote is available.
func (r *Reconciler) dustQty(ctx context.Context, pos types.Position) float64 {
	price := pos.EntryPrice
	if ticker, err := r.exchange.Ticker(ctx, pos.Symbol); err == nil && ticker.Mid() > 0 {
		price = ticker.Mid()
	}
	if price <= 0 {
		return dustQtyFloor
	}
	return math.Max(dustUSD/price, dustQtyFloor)
}

// pendingSells returns the symbols with an in-flight sell order. An
// open-orders failure degrades to an empty set, which only makes phase B
// more conservative via the dust check.
func (r *Reconciler) pendingSells(ctx context.Context) map[string]bool {
	sells := make(map[string]bool)
	orders, err := r.exchange.OpenOrders(ctx, "")
	if err != nil {
		logger.Warn(ctx, "Open orders fetch failed during reconciliation", "error", err)
		return sells
	}
	for _, o := range orders {
		if o.Side == types.SideSell {
			sells[o.Symbol] = true
		}
	}
	return sells
}

// writeMetrics recomputes NAV, cumulative fees, and the daily realized P&L,
// and raises low-balance and drawdown alerts.
func (r *Reconciler) writeMetrics(ctx context.Context, balances []types.Balance) {
	var quoteFree, quoteTotal float64
	for _, b := range balances {
		if normalizeAsset(b.Asset) == strings.ToUpper(r.cfg.Quote) {
			quoteFree += b.Free
			quoteTotal += b.Free + b.Locked
		}
	}

	nav := quoteTotal
	positions, err := r.ledger.OpenPositions(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Open positions load failed for NAV", err)
		positions = nil
	}
	for _, pos := range positions {
		ticker, err := r.exchange.Ticker(ctx, pos.Symbol)
		if err != nil {
			logger.Warn(ctx, "Quote failed, omitting position from NAV", "symbol", pos.Symbol, "error", err)
			continue
		}
		nav += pos.Value(ticker.Mid())
	}

	now := time.Now().UTC()
	if err := r.ledger.CreateMetric(ctx, &types.Metric{Key: types.MetricNAV, Value: nav, Ts: now}); err != nil {
		logger.ErrorWithErr(ctx, "NAV metric write failed", err)
	}

	trades, err := r.ledger.TradesSince(ctx, time.Time{})
	if err != nil {
		logger.ErrorWithErr(ctx, "Trade load failed for fee metric", err)
	} else {
		var fees float64
		for _, t := range trades {
			fees += t.Fee
		}
		if err := r.ledger.CreateMetric(ctx, &types.Metric{Key: types.MetricFees, Value: fees, Ts: now}); err != nil {
			logger.ErrorWithErr(ctx, "Fee metric write failed", err)
		}
	}

	r.writeDailySummary(ctx, now)

	if quoteFree < r.cfg.Strategy.MinBalanceUSD {
		r.alerter.Notify(ctx, interfaces.AlertLowBalance, "",
			fmt.Sprintf("free %s balance %.2f below floor %.2f", r.cfg.Quote, quoteFree, r.cfg.Strategy.MinBalanceUSD))
	}
	r.checkDrawdown(ctx, nav, now)

	logger.Info(ctx, "Reconciliation metrics written", "nav", nav, "open_positions", len(positions))
}

// checkDrawdown compares current NAV against the recorded peak and alerts
// past the configured drawdown percentage.
func (r *Reconciler) checkDrawdown(ctx context.Context, nav float64, now time.Time) {
	history, err := r.ledger.MetricHistory(ctx, types.MetricNAV, now.Add(-30*24*time.Hour), now)
	if err != nil || len(history) == 0 {
		return
	}
	peak := nav
	for _, m := range history {
		if m.Value > peak {
			peak = m.Value
		}
	}
	if peak <= 0 {
		return
	}
	drawdown := (peak - nav) / peak * 100
	if drawdown >= r.cfg.Risk.MaxDrawdownPct {
		r.alerter.Notify(ctx, interfaces.AlertDrawdown, "",
			fmt.Sprintf("drawdown %.1f%% from peak NAV %.2f to %.2f", drawdown, peak, nav))
	}
}

// writeDailySummary computes today's realized P&L FIFO from the trades
// table and records it as a metric.
func (r *Reconciler) writeDailySummary(ctx context.Context, now time.Time) {
	trades, err := r.ledger.TradesSince(ctx, now.Add(-pnlLookback))
	if err != nil {
		logger.ErrorWithErr(ctx, "Trade load failed for daily summary", err)
		return
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	pnl := realizedPnL(trades, dayStart)
	if err := r.ledger.CreateMetric(ctx, &types.Metric{Key: types.MetricDailyPnL, Value: pnl, Ts: now}); err != nil {
		logger.ErrorWithErr(ctx, "Daily P&L metric write failed", err)
	}
}

type lot struct {
	qty   float64
	price float64
}

// realizedPnL matches sells FIFO against prior buys per symbol and sums
// the realized result, net of fees, for sells at or after dayStart.
func realizedPnL(trades []types.Trade, dayStart time.Time) float64 {
	lots := make(map[string][]lot)
	var pnl float64
	for _, t := range trades {
		switch t.Side {
		case types.SideBuy:
			lots[t.Symbol] = append(lots[t.Symbol], lot{qty: t.Qty, price: t.Price})
			if !t.Ts.Before(dayStart) {
				pnl -= t.Fee
			}
		case types.SideSell:
			remaining := t.Qty
			queue := lots[t.Symbol]
			for remaining > 0 && len(queue) > 0 {
				head := &queue[0]
				matched := math.Min(remaining, head.qty)
				if !t.Ts.Before(dayStart) {
					pnl += matched * (t.Price - head.price)
				}
				head.qty -= matched
				remaining -= matched
				if head.qty <= 0 {
					queue = queue[1:]
				}
			}
			lots[t.Symbol] = queue
			if !t.Ts.Before(dayStart) {
				pnl -= t.Fee
			}
		}
	}
	return pnl
}

// CancelStaleOrders cancels open orders older than the fill timeout.
// Failures are logged, never fatal.
func (r *Reconciler) CancelStaleOrders(ctx context.Context) error {
	orders, err := r.exchange.OpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("open orders fetch for stale sweep: %w", err)
	}
	threshold := time.Duration(r.cfg.Execution.FillTimeoutMinutes) * time.Minute
	cutoff := time.Now().Add(-threshold)
	for _, o := range orders {
		if o.OpenedAt.After(cutoff) {
			continue
		}
		if err := r.exchange.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
			logger.Warn(ctx, "Stale order cancel failed", "symbol", o.Symbol, "order_id", o.OrderID, "error", err)
			continue
		}
		logger.Info(ctx, "Cancelled stale order", "symbol", o.Symbol, "order_id", o.OrderID, "age", time.Since(o.OpenedAt))
	}
	return nil
}
