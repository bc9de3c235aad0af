package paper

import (
	"context"
	"math"
	"testing"

	"crypto-trading-bot/internal/types"
)

func newFunded(t *testing.T) *Exchange {
	t.Helper()
	return New("USDT", map[string]float64{"USDT": 10000}, 0.1)
}

func TestLimitOrderFillsAfterPendingPoll(t *testing.T) {
	ex := newFunded(t)
	ctx := context.Background()

	resp, err := ex.PlaceLimitOrder(ctx, types.OrderReq{Symbol: "BTC-USDT", Side: types.SideBuy, Qty: 1, Price: 100})
	if err != nil {
		t.Fatalf("PlaceLimitOrder failed: %v", err)
	}

	state, err := ex.OrderStatus(ctx, "BTC-USDT", resp.OrderID)
	if err != nil {
		t.Fatalf("OrderStatus failed: %v", err)
	}
	if state.Status != types.OrderPending {
		t.Errorf("Expected pending after first poll, got %s", state.Status)
	}

	state, _ = ex.OrderStatus(ctx, "BTC-USDT", resp.OrderID)
	if state.Status != types.OrderFilled {
		t.Fatalf("Expected filled after second poll, got %s", state.Status)
	}
	if state.FilledQty != 1 || state.AvgPrice != 100 {
		t.Errorf("Expected fill of 1 at 100, got %f at %f", state.FilledQty, state.AvgPrice)
	}
}

func TestFillSettlesBalancesWithFee(t *testing.T) {
	ex := newFunded(t)
	ctx := context.Background()

	resp, err := ex.PlaceLimitOrder(ctx, types.OrderReq{Symbol: "BTC-USDT", Side: types.SideBuy, Qty: 2, Price: 100})
	if err != nil {
		t.Fatalf("PlaceLimitOrder failed: %v", err)
	}
	ex.OrderStatus(ctx, "BTC-USDT", resp.OrderID)
	ex.OrderStatus(ctx, "BTC-USDT", resp.OrderID)

	btc, _ := ex.Balance(ctx, "BTC")
	usdt, _ := ex.Balance(ctx, "USDT")
	if btc.Free != 2 {
		t.Errorf("Expected 2 BTC, got %f", btc.Free)
	}
	// 200 notional plus 0.1% taker fee.
	want := 10000 - 200 - 0.2
	if math.Abs(usdt.Free-want) > 1e-9 {
		t.Errorf("Expected %.2f USDT, got %f", want, usdt.Free)
	}
}

func TestCancelFilledOrderFails(t *testing.T) {
	ex := newFunded(t)
	ctx := context.Background()

	resp, err := ex.PlaceMarketOrder(ctx, types.OrderReq{Symbol: "BTC-USDT", Side: types.SideBuy, Qty: 0.1})
	if err != nil {
		t.Fatalf("PlaceMarketOrder failed: %v", err)
	}
	if resp.Status != types.OrderFilled {
		t.Fatalf("Expected immediate market fill, got %s", resp.Status)
	}
	if err := ex.CancelOrder(ctx, "BTC-USDT", resp.OrderID); err == nil {
		t.Error("Expected cancel of a filled order to fail")
	}
}

func TestCancelPendingOrderRestoresNothing(t *testing.T) {
	ex := newFunded(t)
	ctx := context.Background()

	resp, _ := ex.PlaceLimitOrder(ctx, types.OrderReq{Symbol: "ETH-USDT", Side: types.SideBuy, Qty: 1, Price: 50})
	if err := ex.CancelOrder(ctx, "ETH-USDT", resp.OrderID); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	state, _ := ex.OrderStatus(ctx, "ETH-USDT", resp.OrderID)
	if state.Status != types.OrderCancelled {
		t.Errorf("Expected cancelled, got %s", state.Status)
	}
	usdt, _ := ex.Balance(ctx, "USDT")
	if usdt.Free != 10000 {
		t.Errorf("Expected untouched quote balance, got %f", usdt.Free)
	}
}

func TestInsufficientFundsRejected(t *testing.T) {
	ex := New("USDT", map[string]float64{"USDT": 10}, 0.1)
	ctx := context.Background()

	if _, err := ex.PlaceLimitOrder(ctx, types.OrderReq{Symbol: "BTC-USDT", Side: types.SideBuy, Qty: 1, Price: 100}); err == nil {
		t.Error("Expected buy beyond quote balance to fail")
	}
	if _, err := ex.PlaceMarketOrder(ctx, types.OrderReq{Symbol: "BTC-USDT", Side: types.SideSell, Qty: 1}); err == nil {
		t.Error("Expected sell without base balance to fail")
	}
}

func TestOHLCVDeterministicAndContinuous(t *testing.T) {
	ex := newFunded(t)
	ctx := context.Background()

	a, err := ex.OHLCV(ctx, "BTC-USDT", 6, 50)
	if err != nil {
		t.Fatalf("OHLCV failed: %v", err)
	}
	b, _ := ex.OHLCV(ctx, "BTC-USDT", 6, 50)
	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("Expected 50 candles, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Candle %d differs between calls", i)
		}
	}
	// Each candle opens where the previous one closed.
	for i := 1; i < len(a); i++ {
		if a[i].Open != a[i-1].Close {
			t.Fatalf("Candle %d open %f does not match previous close %f", i, a[i].Open, a[i-1].Close)
		}
	}
}

func TestOpenOrdersFiltersPending(t *testing.T) {
	ex := newFunded(t)
	ctx := context.Background()

	pending, _ := ex.PlaceLimitOrder(ctx, types.OrderReq{Symbol: "BTC-USDT", Side: types.SideBuy, Qty: 1, Price: 100})
	ex.PlaceMarketOrder(ctx, types.OrderReq{Symbol: "ETH-USDT", Side: types.SideBuy, Qty: 1})

	open, err := ex.OpenOrders(ctx, "")
	if err != nil {
		t.Fatalf("OpenOrders failed: %v", err)
	}
	if len(open) != 1 || open[0].OrderID != pending.OrderID {
		t.Errorf("Expected only the pending limit order, got %+v", open)
	}

	open, _ = ex.OpenOrders(ctx, "ETH-USDT")
	if len(open) != 0 {
		t.Errorf("Expected no open ETH orders, got %d", len(open))
	}
}
