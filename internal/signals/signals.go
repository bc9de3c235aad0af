// Package signals computes the per-symbol indicator bundle the allocator
// ranks on, and persists one snapshot per symbol per cycle.
package signals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/ta"
	"crypto-trading-bot/internal/types"
)

// Indicator parameters. MinCandles is driven by the long EMA period.
const (
	EMAShortPeriod = 12
	EMALongPeriod  = 26
	RSIPeriod      = 14
	MinCandles     = EMALongPeriod

	candleFetchLimit = 100
)

// Neutral-momentum bonus band.
const (
	rsiBonusLow  = 45.0
	rsiBonusHigh = 55.0
	rsiBonus     = 1.05
)

// ErrInsufficientData marks a symbol whose candle history is too short to
// score. Callers skip the symbol for the cycle.
var ErrInsufficientData = errors.New("insufficient candle history")

// score is the momentum ratio with a bonus for a neutral RSI.
func score(emaShort, emaLong, rsi float64) float64 {
	if emaLong == 0 || math.IsNaN(emaShort) || math.IsNaN(emaLong) {
		return 0
	}
	s := emaShort / emaLong
	if rsi >= rsiBonusLow && rsi <= rsiBonusHigh {
		s *= rsiBonus
	}
	return s
}

// Compute derives the indicator bundle from candles (oldest first).
// intervalHours sizes the 24h change window.
func Compute(candles []types.Candle, intervalHours int) (types.Indicators, error) {
	if len(candles) < MinCandles {
		return types.Indicators{}, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(candles), MinCandles)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	emaShort := ta.EMA(closes, EMAShortPeriod)
	emaLong := ta.EMA(closes, EMALongPeriod)
	rsi := ta.RSI(closes, RSIPeriod)

	bars24h := 1
	if intervalHours > 0 && intervalHours < 24 {
		bars24h = 24 / intervalHours
	}

	return types.Indicators{
		EMAShort:  emaShort,
		EMALong:   emaLong,
		RSI:       rsi,
		Score:     score(emaShort, emaLong, rsi),
		Change24h: ta.ChangePct(closes, bars24h),
	}, nil
}

// Engine fetches candles and produces persisted indicator snapshots.
type Engine struct {
	exchange     interfaces.Exchange
	store        interfaces.SignalStore
	universe     []string
	cadenceHours int
}

// NewEngine creates a signal engine over the configured universe.
func NewEngine(exchange interfaces.Exchange, store interfaces.SignalStore, universe []string, cadenceHours int) *Engine {
	return &Engine{
		exchange:     exchange,
		store:        store,
		universe:     universe,
		cadenceHours: cadenceHours,
	}
}

// Snapshot computes the current indicator bundle for one symbol.
func (e *Engine) Snapshot(ctx context.Context, symbol string) (types.Indicators, error) {
	candles, err := e.exchange.OHLCV(ctx, symbol, e.cadenceHours, candleFetchLimit)
	if err != nil {
		return types.Indicators{}, fmt.Errorf("fetch candles for %s: %w", symbol, err)
	}
	return Compute(candles, e.cadenceHours)
}

// Poll snapshots every universe symbol and persists the results. A failing
// symbol is logged and skipped; the rest of the universe still polls.
func (e *Engine) Poll(ctx context.Context) error {
	var failed int
	for _, symbol := range e.universe {
		ind, err := e.Snapshot(ctx, symbol)
		if err != nil {
			failed++
			if errors.Is(err, ErrInsufficientData) {
				logger.Warn(ctx, "Skipping symbol with short history", "symbol", symbol, "error", err)
			} else {
				logger.ErrorWithErr(ctx, "Signal poll failed for symbol", err, "symbol", symbol)
			}
			continue
		}

		signal := &types.Signal{
			Symbol:       symbol,
			EMAShort:     ind.EMAShort,
			EMALong:      ind.EMALong,
			RSI:          ind.RSI,
			Score:        ind.Score,
			CadenceHours: e.cadenceHours,
			GeneratedAt:  time.Now().UTC(),
		}
		if err := e.store.CreateSignal(ctx, signal); err != nil {
			failed++
			logger.ErrorWithErr(ctx, "Failed to persist signal", err, "symbol", symbol)
			continue
		}
		logger.Debug(ctx, "Signal recorded", "symbol", symbol, "score", ind.Score, "rsi", ind.RSI)
	}

	if failed == len(e.universe) && len(e.universe) > 0 {
		return fmt.Errorf("signal poll failed for all %d symbols", failed)
	}
	return nil
}
