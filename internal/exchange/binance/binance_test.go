package binance

import (
	"context"
	"testing"

	"crypto-trading-bot/internal/types"
)

func TestSymbolWireFormat(t *testing.T) {
	if got := wireSymbol("BTC-USDT"); got != "BTCUSDT" {
		t.Errorf("Expected BTCUSDT, got %s", got)
	}
	cases := map[string]string{
		"BTCUSDT":  "BTC-USDT",
		"ETHBTC":   "ETH-BTC",
		"SOLFDUSD": "SOL-FDUSD",
		"WEIRD":    "WEIRD",
	}
	for wire, want := range cases {
		if got := unwireSymbol(wire); got != want {
			t.Errorf("unwireSymbol(%s): expected %s, got %s", wire, want, got)
		}
	}
}

func TestIntervalString(t *testing.T) {
	cases := map[int]string{1: "1h", 6: "6h", 12: "12h", 24: "1d", 48: "1d", 5: "1h"}
	for hours, want := range cases {
		if got := intervalString(hours); got != want {
			t.Errorf("intervalString(%d): expected %s, got %s", hours, want, got)
		}
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]types.OrderStatus{
		"NEW":              types.OrderPending,
		"PARTIALLY_FILLED": types.OrderPartial,
		"FILLED":           types.OrderFilled,
		"CANCELED":         types.OrderCancelled,
		"EXPIRED":          types.OrderCancelled,
		"REJECTED":         types.OrderCancelled,
		"SOMETHING_ELSE":   types.OrderPending,
	}
	for wire, want := range cases {
		if got := mapStatus(wire); got != want {
			t.Errorf("mapStatus(%s): expected %s, got %s", wire, want, got)
		}
	}
}

func TestDryRunOrderLifecycle(t *testing.T) {
	ex := New("", "", true)
	ctx := context.Background()

	resp, err := ex.PlaceLimitOrder(ctx, types.OrderReq{Symbol: "BTC-USDT", Side: types.SideBuy, Qty: 1, Price: 100})
	if err != nil {
		t.Fatalf("simulated place failed: %v", err)
	}
	if resp.Status != types.OrderPending {
		t.Fatalf("Expected pending, got %s", resp.Status)
	}

	state, _ := ex.OrderStatus(ctx, "BTC-USDT", resp.OrderID)
	if state.Status != types.OrderPending {
		t.Errorf("Expected still pending on first poll, got %s", state.Status)
	}
	state, _ = ex.OrderStatus(ctx, "BTC-USDT", resp.OrderID)
	if state.Status != types.OrderFilled {
		t.Fatalf("Expected filled on second poll, got %s", state.Status)
	}
	if state.AvgPrice != 100 || state.FilledQty != 1 {
		t.Errorf("Expected fill of 1 at 100, got %f at %f", state.FilledQty, state.AvgPrice)
	}
	if err := ex.CancelOrder(ctx, "BTC-USDT", resp.OrderID); err == nil {
		t.Error("Expected cancel of filled simulated order to fail")
	}
}

func TestDryRunOpenOrders(t *testing.T) {
	ex := New("", "", true)
	ctx := context.Background()

	pending, _ := ex.PlaceLimitOrder(ctx, types.OrderReq{Symbol: "ETH-USDT", Side: types.SideSell, Qty: 2, Price: 50})
	market, _ := ex.PlaceMarketOrder(ctx, types.OrderReq{Symbol: "BTC-USDT", Side: types.SideBuy, Qty: 1})
	if market.Status != types.OrderFilled {
		t.Fatalf("Expected immediate market fill, got %s", market.Status)
	}

	open, err := ex.OpenOrders(ctx, "")
	if err != nil {
		t.Fatalf("OpenOrders failed: %v", err)
	}
	if len(open) != 1 || open[0].OrderID != pending.OrderID {
		t.Fatalf("Expected only the pending limit order, got %+v", open)
	}
	if open[0].Symbol != "ETH-USDT" || open[0].Side != types.SideSell {
		t.Errorf("Unexpected open order fields: %+v", open[0])
	}
}
