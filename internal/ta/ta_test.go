package ta

import (
	"math"
	"testing"
)

func TestEMAInsufficientData(t *testing.T) {
	if v := EMA([]float64{1, 2, 3}, 12); !math.IsNaN(v) {
		t.Errorf("Expected NaN for short input, got %f", v)
	}
}

func TestRSIRisingCloses(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	rsi := RSI(closes, 14)
	if rsi <= 50 {
		t.Errorf("Expected RSI above 50 for monotonically rising closes, got %f", rsi)
	}
}

func TestEMAShortAboveLongInUptrend(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	short := EMA(closes, 12)
	long := EMA(closes, 26)
	if short <= long {
		t.Errorf("Expected EMA(12)=%f above EMA(26)=%f in uptrend", short, long)
	}
}

func TestRoundToStepNeverIncreases(t *testing.T) {
	cases := []struct {
		qty, step float64
	}{
		{4.07, 0.01},
		{4.999999, 0.001},
		{0.12345678, 0.0001},
		{10, 1},
	}
	for _, c := range cases {
		got := RoundToStep(c.qty, c.step)
		if got > c.qty+1e-12 {
			t.Errorf("RoundToStep(%f, %f) = %f increased quantity", c.qty, c.step, got)
		}
	}
}

func TestRoundToStepIdempotent(t *testing.T) {
	once := RoundToStep(4.0789, 0.01)
	twice := RoundToStep(once, 0.01)
	if math.Abs(once-twice) > 1e-12 {
		t.Errorf("Rounding not idempotent: %f vs %f", once, twice)
	}
}

func TestChangePct(t *testing.T) {
	values := []float64{100, 101, 102, 110}
	got := ChangePct(values, 3)
	if math.Abs(got-10) > 1e-9 {
		t.Errorf("Expected 10%% change, got %f", got)
	}
}
