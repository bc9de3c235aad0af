// Package backtest replays the scoring function over historical candle
// windows. Single-threaded, no live execution, no persistence.
package backtest

import (
	"fmt"
	"math"

	"crypto-trading-bot/internal/signals"
	"crypto-trading-bot/internal/types"
)

// Config bounds one replay.
type Config struct {
	IntervalHours int
	RSILow        float64
	RSIHigh       float64
}

// Summary aggregates a replay over one symbol.
type Summary struct {
	Symbol    string
	Windows   int
	Passing   int // windows that clear the entry filter
	AvgScore  float64
	MaxScore  float64
	LastScore float64
}

// PassRate is the share of windows that cleared the entry filter.
func (s Summary) PassRate() float64 {
	if s.Windows == 0 {
		return 0
	}
	return float64(s.Passing) / float64(s.Windows)
}

// Replay slides a growing window over the candles, scoring each step the
// way the live signal engine would.
func Replay(symbol string, candles []types.Candle, cfg Config) (Summary, error) {
	if len(candles) < signals.MinCandles {
		return Summary{}, fmt.Errorf("need at least %d candles for %s, have %d", signals.MinCandles, symbol, len(candles))
	}

	summary := Summary{Symbol: symbol}
	var scoreSum float64
	for end := signals.MinCandles; end <= len(candles); end++ {
		ind, err := signals.Compute(candles[:end], cfg.IntervalHours)
		if err != nil {
			return Summary{}, fmt.Errorf("compute window ending at %d: %w", end, err)
		}
		summary.Windows++
		scoreSum += ind.Score
		summary.MaxScore = math.Max(summary.MaxScore, ind.Score)
		summary.LastScore = ind.Score
		if passes(ind, cfg) {
			summary.Passing++
		}
	}
	summary.AvgScore = scoreSum / float64(summary.Windows)
	return summary, nil
}

// passes mirrors the allocator's entry filter without the volatility pause;
// a replay has no 24h reference frame until the window is wide enough.
func passes(ind types.Indicators, cfg Config) bool {
	if math.IsNaN(ind.EMAShort) || math.IsNaN(ind.EMALong) || math.IsNaN(ind.RSI) {
		return false
	}
	return ind.EMAShort > ind.EMALong && ind.RSI >= cfg.RSILow && ind.RSI <= cfg.RSIHigh
}
