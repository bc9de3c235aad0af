package allocator

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-trading-bot/internal/store"
	"crypto-trading-bot/internal/types"
)

type fakeExchange struct {
	balances   map[string]types.Balance
	tickers    map[string]types.Ticker
	lots       map[string]types.LotSizeInfo
	openOrders []types.OpenOrder
	tickerErr  map[string]error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balances:  make(map[string]types.Balance),
		tickers:   make(map[string]types.Ticker),
		lots:      make(map[string]types.LotSizeInfo),
		tickerErr: make(map[string]error),
	}
}

func (f *fakeExchange) OHLCV(ctx context.Context, symbol string, intervalHours, limit int) ([]types.Candle, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeExchange) Ticker(ctx context.Context, symbol string) (types.Ticker, error) {
	if err := f.tickerErr[symbol]; err != nil {
		return types.Ticker{}, err
	}
	t, ok := f.tickers[symbol]
	if !ok {
		return types.Ticker{}, errors.New("no ticker for " + symbol)
	}
	return t, nil
}

func (f *fakeExchange) Balance(ctx context.Context, asset string) (types.Balance, error) {
	return f.balances[asset], nil
}

func (f *fakeExchange) AllBalances(ctx context.Context) ([]types.Balance, error) {
	var out []types.Balance
	for _, b := range f.balances {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeExchange) PlaceLimitOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	return types.OrderResp{}, errors.New("not implemented")
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	return types.OrderResp{}, errors.New("not implemented")
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (f *fakeExchange) OrderStatus(ctx context.Context, symbol, orderID string) (types.OrderState, error) {
	return types.OrderState{}, errors.New("not implemented")
}

func (f *fakeExchange) LotSizeInfo(ctx context.Context, symbol string) (types.LotSizeInfo, error) {
	if lot, ok := f.lots[symbol]; ok {
		return lot, nil
	}
	return types.LotSizeInfo{Symbol: symbol, StepSize: 0.0001, MinQty: 0.0001, MinNotional: 5}, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	return f.openOrders, nil
}

type fakeLedger struct {
	positions []types.Position
}

func (f *fakeLedger) CreatePosition(ctx context.Context, p *types.Position) error {
	f.positions = append(f.positions, *p)
	return nil
}

func (f *fakeLedger) OpenPositions(ctx context.Context) ([]types.Position, error) {
	var open []types.Position
	for _, p := range f.positions {
		if p.Status == types.PositionOpen {
			open = append(open, p)
		}
	}
	return open, nil
}

func (f *fakeLedger) OpenPositionBySymbol(ctx context.Context, symbol string) (*types.Position, error) {
	for i := range f.positions {
		if f.positions[i].Symbol == symbol && f.positions[i].Status == types.PositionOpen {
			p := f.positions[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) UpdatePositionQty(ctx context.Context, id int64, qty float64) error { return nil }

func (f *fakeLedger) ClosePosition(ctx context.Context, id int64, closedAt time.Time) error {
	return nil
}

func (f *fakeLedger) CreateTrade(ctx context.Context, t *types.Trade) error { return nil }

func (f *fakeLedger) TradesSince(ctx context.Context, since time.Time) ([]types.Trade, error) {
	return nil, nil
}

func (f *fakeLedger) CreateSignal(ctx context.Context, s *types.Signal) error { return nil }

func (f *fakeLedger) LatestSignal(ctx context.Context, symbol string) (*types.Signal, error) {
	return nil, nil
}

func (f *fakeLedger) CreateMetric(ctx context.Context, m *types.Metric) error { return nil }

func (f *fakeLedger) LatestMetric(ctx context.Context, key string) (*types.Metric, error) {
	return nil, nil
}

func (f *fakeLedger) MetricHistory(ctx context.Context, key string, from, to time.Time) ([]types.Metric, error) {
	return nil, nil
}

type fakeSignals struct {
	inds map[string]types.Indicators
	errs map[string]error
}

func (f *fakeSignals) Snapshot(ctx context.Context, symbol string) (types.Indicators, error) {
	if err := f.errs[symbol]; err != nil {
		return types.Indicators{}, err
	}
	ind, ok := f.inds[symbol]
	if !ok {
		return types.Indicators{}, errors.New("no indicators for " + symbol)
	}
	return ind, nil
}

func (f *fakeSignals) Poll(ctx context.Context) error { return nil }

func testConfig(universe ...string) *store.Config {
	cfg := &store.Config{}
	cfg.Mode = "DRY_RUN"
	cfg.Exchange = "PAPER"
	cfg.Quote = "USDT"
	cfg.Universe = universe
	cfg.CadenceHours = 6
	cfg.Strategy.MaxPositions = 5
	cfg.Strategy.MaxAllocFraction = 0.2
	cfg.Strategy.MinOrderUSD = 5
	cfg.Strategy.MinBalanceUSD = 50
	cfg.Strategy.RSILow = 40
	cfg.Strategy.RSIHigh = 70
	cfg.Strategy.VolatilityPause = 15
	cfg.Strategy.CooldownCycles = 2
	cfg.Strategy.CashBufferFloor = 10
	cfg.Risk.MinProfitUSD = 0.1
	cfg.Risk.MinProfitPct = 0.5
	cfg.Risk.MaxLossUSD = 2
	cfg.Risk.MaxLossPct = 3
	cfg.Risk.MinPositionValue = 2
	cfg.Risk.ProfitFeeBufferPct = 0.1
	cfg.Risk.VolatilityAdjFactor = 1.5
	cfg.Risk.TakerFeePct = 0.1
	return cfg
}

func passingIndicators(score float64) types.Indicators {
	return types.Indicators{EMAShort: 105, EMALong: 100, RSI: 55, Score: score, Change24h: 2}
}

func TestEntrySizing(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = types.Balance{Asset: "USDT", Free: 1000}
	ex.tickers["AAA-USDT"] = types.Ticker{Symbol: "AAA-USDT", Bid: 50, Ask: 50, Last: 50}
	ex.lots["AAA-USDT"] = types.LotSizeInfo{Symbol: "AAA-USDT", StepSize: 1, MinQty: 1, MinNotional: 5}

	sig := &fakeSignals{inds: map[string]types.Indicators{"AAA-USDT": passingIndicators(1.05)}}
	a := New(ex, &fakeLedger{}, sig, testConfig("AAA-USDT"))

	decisions, err := a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("Expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Side != types.SideBuy || d.Symbol != "AAA-USDT" {
		t.Errorf("Expected buy for AAA-USDT, got %+v", d)
	}
	// NAV 1000 x 0.2 alloc = 200 at price 50 is quantity 4.
	if d.Qty != 4 {
		t.Errorf("Expected quantity 4, got %f", d.Qty)
	}
}

func TestNoMoreBuysThanSlots(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = types.Balance{Asset: "USDT", Free: 10000}
	universe := []string{"AAA-USDT", "BBB-USDT", "CCC-USDT", "DDD-USDT"}
	sig := &fakeSignals{inds: make(map[string]types.Indicators)}
	for i, s := range universe {
		ex.tickers[s] = types.Ticker{Symbol: s, Bid: 50, Ask: 50, Last: 50}
		sig.inds[s] = passingIndicators(1.1 - float64(i)*0.01)
	}

	cfg := testConfig(universe...)
	cfg.Strategy.MaxPositions = 3

	ledger := &fakeLedger{positions: []types.Position{
		{ID: 1, Symbol: "EEE-USDT", Qty: 1, EntryPrice: 50, Status: types.PositionOpen},
	}}
	ex.tickers["EEE-USDT"] = types.Ticker{Symbol: "EEE-USDT", Bid: 50, Ask: 50, Last: 50}
	ex.openOrders = []types.OpenOrder{
		{OrderID: "1", Symbol: "FFF-USDT", Side: types.SideBuy, Qty: 1, Status: types.OrderPending},
	}

	a := New(ex, ledger, sig, cfg)
	decisions, err := a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	buys := 0
	for _, d := range decisions {
		if d.Side == types.SideBuy {
			buys++
		}
	}
	// 3 max positions, 1 open, 1 pending buy: 1 slot left.
	if buys != 1 {
		t.Errorf("Expected 1 buy for 1 open slot, got %d", buys)
	}
}

func TestNeverTargetsHeldSymbol(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = types.Balance{Asset: "USDT", Free: 1000}
	ex.tickers["AAA-USDT"] = types.Ticker{Symbol: "AAA-USDT", Bid: 50, Ask: 50, Last: 50}
	sig := &fakeSignals{inds: map[string]types.Indicators{"AAA-USDT": passingIndicators(1.1)}}

	ledger := &fakeLedger{positions: []types.Position{
		{ID: 1, Symbol: "AAA-USDT", Qty: 1, EntryPrice: 50, Status: types.PositionOpen},
	}}

	a := New(ex, ledger, sig, testConfig("AAA-USDT"))
	decisions, err := a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for _, d := range decisions {
		if d.Side == types.SideBuy && d.Symbol == "AAA-USDT" {
			t.Error("Allocator bought an already held symbol")
		}
	}
}

func TestNeverTargetsCoolingSymbol(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = types.Balance{Asset: "USDT", Free: 1000}
	ex.tickers["AAA-USDT"] = types.Ticker{Symbol: "AAA-USDT", Bid: 50, Ask: 50, Last: 50}
	sig := &fakeSignals{inds: map[string]types.Indicators{"AAA-USDT": passingIndicators(1.1)}}

	a := New(ex, &fakeLedger{}, sig, testConfig("AAA-USDT"))
	a.setCooldown("AAA-USDT")

	// Cycle 1: tick drops cooldown from 2 to 1, still cooling.
	decisions, err := a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(decisions) != 0 {
		t.Fatalf("Expected no decisions while cooling, got %d", len(decisions))
	}

	// Cycle 2: cooldown expires, entry allowed.
	decisions, err = a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Side != types.SideBuy {
		t.Fatalf("Expected buy after cooldown expiry, got %+v", decisions)
	}
}

func TestRiskAndRebalanceNeverDoubleSell(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = types.Balance{Asset: "USDT", Free: 1000}
	// Held symbol is deep in loss and also not in the target set.
	ex.tickers["AAA-USDT"] = types.Ticker{Symbol: "AAA-USDT", Bid: 40, Ask: 40, Last: 40}
	sig := &fakeSignals{inds: map[string]types.Indicators{}}

	ledger := &fakeLedger{positions: []types.Position{
		{ID: 1, Symbol: "AAA-USDT", Qty: 1, EntryPrice: 50, Status: types.PositionOpen},
	}}

	a := New(ex, ledger, sig, testConfig("AAA-USDT"))
	decisions, err := a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	sells := 0
	for _, d := range decisions {
		if d.Side == types.SideSell && d.Symbol == "AAA-USDT" {
			sells++
		}
	}
	if sells != 1 {
		t.Errorf("Expected exactly 1 sell for AAA-USDT, got %d", sells)
	}
	if decisions[0].Reason != ReasonStopLoss {
		t.Errorf("Expected stop_loss exit, got %s", decisions[0].Reason)
	}
}

func TestRebalanceExitsOffTargetPosition(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = types.Balance{Asset: "USDT", Free: 1000}
	// Held symbol trades flat, so no risk exit fires; it fails the entry
	// filter, so the rebalance pass rotates it out.
	ex.tickers["AAA-USDT"] = types.Ticker{Symbol: "AAA-USDT", Bid: 50, Ask: 50, Last: 50}
	sig := &fakeSignals{inds: map[string]types.Indicators{
		"AAA-USDT": {EMAShort: 95, EMALong: 100, RSI: 30, Score: 0.95},
	}}

	ledger := &fakeLedger{positions: []types.Position{
		{ID: 1, Symbol: "AAA-USDT", Qty: 1, EntryPrice: 50, Status: types.PositionOpen},
	}}

	a := New(ex, ledger, sig, testConfig("AAA-USDT"))
	decisions, err := a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("Expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Side != types.SideSell || decisions[0].Reason != ReasonRebalance {
		t.Errorf("Expected rebalance sell, got %+v", decisions[0])
	}
	if a.CooldownRemaining("AAA-USDT") == 0 {
		t.Error("Expected cooldown set after sell")
	}
}

func TestNAVFloorSkipsCycle(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = types.Balance{Asset: "USDT", Free: 20}
	sig := &fakeSignals{inds: map[string]types.Indicators{"AAA-USDT": passingIndicators(1.1)}}

	a := New(ex, &fakeLedger{}, sig, testConfig("AAA-USDT"))
	decisions, err := a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(decisions) != 0 {
		t.Errorf("Expected no decisions below NAV floor, got %d", len(decisions))
	}
}

func TestDisabledStrategyIsNoOp(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = types.Balance{Asset: "USDT", Free: 1000}
	sig := &fakeSignals{inds: map[string]types.Indicators{"AAA-USDT": passingIndicators(1.1)}}

	a := New(ex, &fakeLedger{}, sig, testConfig("AAA-USDT"))
	a.SetEnabled(false)

	decisions, err := a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(decisions) != 0 {
		t.Errorf("Expected no decisions while disabled, got %d", len(decisions))
	}
}

func TestVolatilityPauseBlocksEntry(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = types.Balance{Asset: "USDT", Free: 1000}
	ex.tickers["AAA-USDT"] = types.Ticker{Symbol: "AAA-USDT", Bid: 50, Ask: 50, Last: 50}
	ind := passingIndicators(1.1)
	ind.Change24h = 20 // beyond the 15% pause
	sig := &fakeSignals{inds: map[string]types.Indicators{"AAA-USDT": ind}}

	a := New(ex, &fakeLedger{}, sig, testConfig("AAA-USDT"))
	decisions, err := a.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(decisions) != 0 {
		t.Errorf("Expected volatility pause to block entry, got %d decisions", len(decisions))
	}
}

func TestProfitBoundary(t *testing.T) {
	a := New(newFakeExchange(), &fakeLedger{}, &fakeSignals{}, testConfig("AAA-USDT"))
	pos := types.Position{Symbol: "AAA-USDT", Qty: 1, EntryPrice: 100, Status: types.PositionOpen}

	// Profit exactly at the 0.5% threshold sells.
	if d := a.exitDecision(pos, 100.5, 0); d == nil || d.Reason != ReasonTakeProfit {
		t.Errorf("Expected take_profit at exact threshold, got %+v", d)
	}
	// Just below the threshold holds.
	if d := a.exitDecision(pos, 100.49, 0); d != nil {
		t.Errorf("Expected hold below threshold, got %+v", d)
	}
}

func TestStopLossVolatilityScaling(t *testing.T) {
	a := New(newFakeExchange(), &fakeLedger{}, &fakeSignals{}, testConfig("AAA-USDT"))
	pos := types.Position{Symbol: "AAA-USDT", Qty: 1, EntryPrice: 100, Status: types.PositionOpen}

	// Calm market: loss threshold is max($2, 3%) = $3; a $4 loss exits.
	if d := a.exitDecision(pos, 96, 0); d == nil || d.Reason != ReasonStopLoss {
		t.Errorf("Expected stop_loss in calm market, got %+v", d)
	}
	// Volatile market: threshold scales to 3% x 1.5 = $4.50; same loss holds.
	if d := a.exitDecision(pos, 96, 15); d != nil {
		t.Errorf("Expected volatility-scaled threshold to hold, got %+v", d)
	}
	// Deeper loss still exits under the scaled threshold.
	if d := a.exitDecision(pos, 95, 15); d == nil || d.Reason != ReasonStopLoss {
		t.Errorf("Expected stop_loss beyond scaled threshold, got %+v", d)
	}
}

func TestDustPositionSkipsRiskExit(t *testing.T) {
	a := New(newFakeExchange(), &fakeLedger{}, &fakeSignals{}, testConfig("AAA-USDT"))
	// Value $1 is below the $2 exit floor; never exited by risk rules.
	pos := types.Position{Symbol: "AAA-USDT", Qty: 0.01, EntryPrice: 500, Status: types.PositionOpen}
	if d := a.exitDecision(pos, 100, 0); d != nil {
		t.Errorf("Expected dust position to be held, got %+v", d)
	}
}
