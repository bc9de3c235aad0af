package ta

import (
	"math"

	"github.com/markcheno/go-talib"
)

// EMA returns the latest exponential moving average of values over period.
// Returns NaN if there is not enough data.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}
	out := talib.Ema(values, period)
	return out[len(out)-1]
}

// RSI returns the latest Wilder-smoothed relative strength index.
// Returns NaN if there is not enough data (needs period+1 values).
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return math.NaN()
	}
	out := talib.Rsi(values, period)
	return out[len(out)-1]
}

// ChangePct returns the percentage change from the value n bars back to the
// latest value. Returns 0 if the window is not available.
func ChangePct(values []float64, n int) float64 {
	if n <= 0 || len(values) < n+1 {
		return 0
	}
	prev := values[len(values)-1-n]
	if prev == 0 {
		return 0
	}
	return (values[len(values)-1] - prev) / prev * 100
}

// RoundToStep floors qty to the exchange lot-size increment. Rounding never
// increases quantity and is idempotent.
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	steps := math.Floor(qty/step + 1e-9)
	return steps * step
}
