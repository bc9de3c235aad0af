package ledger

import (
	"context"
	"testing"
	"time"

	"crypto-trading-bot/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", "test-bot")
	if err != nil {
		t.Fatalf("Failed to open in-memory ledger: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPositionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &types.Position{Symbol: "BTC-USDT", Qty: 0.5, EntryPrice: 40000}
	if err := s.CreatePosition(ctx, p); err != nil {
		t.Fatalf("CreatePosition failed: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("Expected position id to be backfilled")
	}

	got, err := s.OpenPositionBySymbol(ctx, "BTC-USDT")
	if err != nil {
		t.Fatalf("OpenPositionBySymbol failed: %v", err)
	}
	if got == nil || got.Qty != 0.5 || got.EntryPrice != 40000 {
		t.Fatalf("Unexpected position: %+v", got)
	}

	if err := s.UpdatePositionQty(ctx, p.ID, 0.4); err != nil {
		t.Fatalf("UpdatePositionQty failed: %v", err)
	}
	got, _ = s.OpenPositionBySymbol(ctx, "BTC-USDT")
	if got.Qty != 0.4 {
		t.Errorf("Expected qty 0.4 after update, got %f", got.Qty)
	}

	if err := s.ClosePosition(ctx, p.ID, time.Now()); err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}
	got, err = s.OpenPositionBySymbol(ctx, "BTC-USDT")
	if err != nil {
		t.Fatalf("Lookup after close failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected no open position after close, got %+v", got)
	}
}

func TestOpenPositionBySymbolMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.OpenPositionBySymbol(context.Background(), "ETH-USDT")
	if err != nil {
		t.Fatalf("Expected nil error for missing position, got %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil position, got %+v", got)
	}
}

func TestTradesAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	since := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		tr := &types.Trade{Symbol: "ETH-USDT", Side: types.SideBuy, Qty: 1, Price: 2000, Fee: 2, OrderID: "o1"}
		if err := s.CreateTrade(ctx, tr); err != nil {
			t.Fatalf("CreateTrade failed: %v", err)
		}
	}

	trades, err := s.TradesSince(ctx, since)
	if err != nil {
		t.Fatalf("TradesSince failed: %v", err)
	}
	if len(trades) != 3 {
		t.Errorf("Expected 3 trades, got %d", len(trades))
	}
}

func TestLatestSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &types.Signal{Symbol: "BTC-USDT", Score: 1.01, GeneratedAt: time.Now().Add(-time.Hour)}
	newer := &types.Signal{Symbol: "BTC-USDT", Score: 1.05, GeneratedAt: time.Now()}
	if err := s.CreateSignal(ctx, older); err != nil {
		t.Fatalf("CreateSignal failed: %v", err)
	}
	if err := s.CreateSignal(ctx, newer); err != nil {
		t.Fatalf("CreateSignal failed: %v", err)
	}

	got, err := s.LatestSignal(ctx, "BTC-USDT")
	if err != nil {
		t.Fatalf("LatestSignal failed: %v", err)
	}
	if got == nil || got.Score != 1.05 {
		t.Fatalf("Expected latest score 1.05, got %+v", got)
	}
}

func TestMetricLatestAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Hour)
	for i, v := range []float64{1000, 1010, 990} {
		m := &types.Metric{Key: types.MetricNAV, Value: v, Ts: base.Add(time.Duration(i) * time.Hour)}
		if err := s.CreateMetric(ctx, m); err != nil {
			t.Fatalf("CreateMetric failed: %v", err)
		}
	}

	latest, err := s.LatestMetric(ctx, types.MetricNAV)
	if err != nil {
		t.Fatalf("LatestMetric failed: %v", err)
	}
	if latest == nil || latest.Value != 990 {
		t.Fatalf("Expected latest NAV 990, got %+v", latest)
	}

	hist, err := s.MetricHistory(ctx, types.MetricNAV, base.Add(-time.Minute), time.Now())
	if err != nil {
		t.Fatalf("MetricHistory failed: %v", err)
	}
	if len(hist) != 3 {
		t.Errorf("Expected 3 history rows, got %d", len(hist))
	}
	if latestMissing, _ := s.LatestMetric(ctx, "unknown"); latestMissing != nil {
		t.Errorf("Expected nil for unknown key, got %+v", latestMissing)
	}
}
