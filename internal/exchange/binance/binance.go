// Package binance implements the Exchange adapter against the Binance spot
// REST API. In DRY_RUN mode market data comes from the live API while order
// endpoints are simulated locally.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"crypto-trading-bot/internal/api"
	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/types"
)

const baseURL = "https://api.binance.com"

// Exchange talks to the Binance spot REST API.
type Exchange struct {
	client    *api.Client
	apiKey    string
	apiSecret string
	dryRun    bool

	mu        sync.Mutex
	simOrders map[string]*simOrder
	simSeq    int64

	lotMu    sync.Mutex
	lotCache map[string]types.LotSizeInfo
}

type simOrder struct {
	symbol   string
	side     string
	qty      float64
	price    float64
	status   types.OrderStatus
	polls    int
	openedAt time.Time
}

var _ interfaces.Exchange = (*Exchange)(nil)

// New creates a Binance adapter. With dryRun set, order placement, status
// and cancellation are simulated while market data endpoints stay live.
func New(apiKey, apiSecret string, dryRun bool) *Exchange {
	return &Exchange{
		client: api.NewClient(
			api.WithBaseURL(baseURL),
			api.WithTimeout(15*time.Second),
			api.WithLogging(true),
		),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		dryRun:    dryRun,
		simOrders: make(map[string]*simOrder),
		lotCache:  make(map[string]types.LotSizeInfo),
	}
}

// wireSymbol converts the internal "BTC-USDT" form to Binance's "BTCUSDT".
func wireSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "-", "")
}

// quoteSuffixes are the quote assets recognized when splitting a wire symbol
// back into base-quote form, longest first.
var quoteSuffixes = []string{"USDT", "USDC", "FDUSD", "TUSD", "BUSD", "EUR", "TRY", "BTC", "ETH", "BNB"}

// unwireSymbol converts Binance's "BTCUSDT" back to "BTC-USDT". Unknown
// quotes pass through unchanged.
func unwireSymbol(wire string) string {
	for _, quote := range quoteSuffixes {
		if strings.HasSuffix(wire, quote) && len(wire) > len(quote) {
			return wire[:len(wire)-len(quote)] + "-" + quote
		}
	}
	return wire
}

func intervalString(intervalHours int) string {
	if intervalHours >= 24 {
		return "1d"
	}
	switch intervalHours {
	case 1, 2, 4, 6, 8, 12:
		return fmt.Sprintf("%dh", intervalHours)
	default:
		return "1h"
	}
}

func mapStatus(s string) types.OrderStatus {
	switch s {
	case "NEW":
		return types.OrderPending
	case "PARTIALLY_FILLED":
		return types.OrderPartial
	case "FILLED":
		return types.OrderFilled
	case "CANCELED", "EXPIRED", "REJECTED":
		return types.OrderCancelled
	default:
		return types.OrderPending
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// sign appends timestamp and HMAC-SHA256 signature to query params.
func (e *Exchange) sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	payload := params.Encode()
	mac := hmac.New(sha256.New, []byte(e.apiSecret))
	mac.Write([]byte(payload))
	return payload + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (e *Exchange) authHeaders() map[string]string {
	return map[string]string{"X-MBX-APIKEY": e.apiKey}
}

// OHLCV fetches klines for the symbol, oldest first.
func (e *Exchange) OHLCV(ctx context.Context, symbol string, intervalHours, limit int) ([]types.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	path := fmt.Sprintf("/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		wireSymbol(symbol), intervalString(intervalHours), limit)
	resp, err := e.client.GET(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}

	// Each kline is a mixed-type array: open time, then OHLCV as strings.
	var raw [][]interface{}
	if err := resp.ParseJSON(&raw); err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}

	candles := make([]types.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		ts, _ := k[0].(float64)
		candles = append(candles, types.Candle{
			Ts:    int64(ts) / 1000,
			Open:  parseFloat(fmt.Sprint(k[1])),
			High:  parseFloat(fmt.Sprint(k[2])),
			Low:   parseFloat(fmt.Sprint(k[3])),
			Close: parseFloat(fmt.Sprint(k[4])),
			Vol:   parseFloat(fmt.Sprint(k[5])),
		})
	}
	return candles, nil
}

// Ticker fetches the best bid/ask for the symbol.
func (e *Exchange) Ticker(ctx context.Context, symbol string) (types.Ticker, error) {
	path := "/api/v3/ticker/bookTicker?symbol=" + wireSymbol(symbol)
	resp, err := e.client.GET(ctx, path)
	if err != nil {
		return types.Ticker{}, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	var raw struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := resp.ParseJSON(&raw); err != nil {
		return types.Ticker{}, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	bid := parseFloat(raw.BidPrice)
	ask := parseFloat(raw.AskPrice)
	return types.Ticker{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Last:   (bid + ask) / 2,
		Ts:     time.Now().Unix(),
	}, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func (e *Exchange) account(ctx context.Context) (*accountResponse, error) {
	path := "/api/v3/account?" + e.sign(url.Values{})
	resp, err := e.client.GET(ctx, path, e.authHeaders())
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	var acct accountResponse
	if err := resp.ParseJSON(&acct); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return &acct, nil
}

// Balance returns the balance for one asset, zero if the account holds none.
func (e *Exchange) Balance(ctx context.Context, asset string) (types.Balance, error) {
	acct, err := e.account(ctx)
	if err != nil {
		return types.Balance{}, err
	}
	for _, b := range acct.Balances {
		if b.Asset == asset {
			return types.Balance{Asset: asset, Free: parseFloat(b.Free), Locked: parseFloat(b.Locked)}, nil
		}
	}
	return types.Balance{Asset: asset}, nil
}

// AllBalances returns every asset with a non-zero free or locked amount.
func (e *Exchange) AllBalances(ctx context.Context) ([]types.Balance, error) {
	acct, err := e.account(ctx)
	if err != nil {
		return nil, err
	}
	var balances []types.Balance
	for _, b := range acct.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, types.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

func (e *Exchange) placeOrder(ctx context.Context, req types.OrderReq, orderType string) (types.OrderResp, error) {
	if e.dryRun {
		return e.simPlace(ctx, req, orderType)
	}

	params := url.Values{}
	params.Set("symbol", wireSymbol(req.Symbol))
	params.Set("side", req.Side)
	params.Set("type", orderType)
	params.Set("quantity", strconv.FormatFloat(req.Qty, 'f', -1, 64))
	if orderType == "LIMIT" {
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}
	if req.ClientID != 0 {
		params.Set("newClientOrderId", strconv.FormatInt(req.ClientID, 10))
	}

	path := "/api/v3/order?" + e.sign(params)
	resp, err := e.client.POST(ctx, path, nil, e.authHeaders())
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("place %s %s %s: %w", orderType, req.Side, req.Symbol, err)
	}
	var raw orderResponse
	if err := resp.ParseJSON(&raw); err != nil {
		return types.OrderResp{}, fmt.Errorf("place %s %s: %w", orderType, req.Symbol, err)
	}
	return types.OrderResp{
		OrderID: strconv.FormatInt(raw.OrderID, 10),
		Status:  mapStatus(raw.Status),
	}, nil
}

// PlaceLimitOrder submits a GTC limit order.
func (e *Exchange) PlaceLimitOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	return e.placeOrder(ctx, req, "LIMIT")
}

// PlaceMarketOrder submits a market order.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	return e.placeOrder(ctx, req, "MARKET")
}

// CancelOrder cancels an open order. Binance rejects cancels of filled
// orders; that error is passed through for the caller to disambiguate.
func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if e.dryRun {
		return e.simCancel(ctx, orderID)
	}
	params := url.Values{}
	params.Set("symbol", wireSymbol(symbol))
	params.Set("orderId", orderID)
	path := "/api/v3/order?" + e.sign(params)
	if _, err := e.client.DELETE(ctx, path, e.authHeaders()); err != nil {
		return fmt.Errorf("cancel %s %s: %w", symbol, orderID, err)
	}
	return nil
}

// OrderStatus polls an order's current state.
func (e *Exchange) OrderStatus(ctx context.Context, symbol, orderID string) (types.OrderState, error) {
	if e.dryRun {
		return e.simStatus(ctx, orderID)
	}
	params := url.Values{}
	params.Set("symbol", wireSymbol(symbol))
	params.Set("orderId", orderID)
	path := "/api/v3/order?" + e.sign(params)
	resp, err := e.client.GET(ctx, path, e.authHeaders())
	if err != nil {
		return types.OrderState{}, fmt.Errorf("order status %s %s: %w", symbol, orderID, err)
	}
	var raw struct {
		OrderID             int64  `json:"orderId"`
		Side                string `json:"side"`
		Status              string `json:"status"`
		OrigQty             string `json:"origQty"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	}
	if err := resp.ParseJSON(&raw); err != nil {
		return types.OrderState{}, fmt.Errorf("order status %s: %w", symbol, err)
	}
	state := types.OrderState{
		OrderID:   strconv.FormatInt(raw.OrderID, 10),
		Symbol:    symbol,
		Side:      raw.Side,
		Status:    mapStatus(raw.Status),
		Qty:       parseFloat(raw.OrigQty),
		FilledQty: parseFloat(raw.ExecutedQty),
	}
	if state.FilledQty > 0 {
		state.AvgPrice = parseFloat(raw.CummulativeQuoteQty) / state.FilledQty
	}
	return state, nil
}

// LotSizeInfo fetches and caches the LOT_SIZE and NOTIONAL filters.
func (e *Exchange) LotSizeInfo(ctx context.Context, symbol string) (types.LotSizeInfo, error) {
	e.lotMu.Lock()
	if cached, ok := e.lotCache[symbol]; ok {
		e.lotMu.Unlock()
		return cached, nil
	}
	e.lotMu.Unlock()

	path := "/api/v3/exchangeInfo?symbol=" + wireSymbol(symbol)
	resp, err := e.client.GET(ctx, path)
	if err != nil {
		return types.LotSizeInfo{}, fmt.Errorf("exchange info %s: %w", symbol, err)
	}
	var raw struct {
		Symbols []struct {
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := resp.ParseJSON(&raw); err != nil {
		return types.LotSizeInfo{}, fmt.Errorf("exchange info %s: %w", symbol, err)
	}
	if len(raw.Symbols) == 0 {
		return types.LotSizeInfo{}, fmt.Errorf("exchange info %s: symbol not found", symbol)
	}

	info := types.LotSizeInfo{Symbol: symbol}
	for _, f := range raw.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			info.StepSize = parseFloat(f.StepSize)
			info.MinQty = parseFloat(f.MinQty)
		case "NOTIONAL", "MIN_NOTIONAL":
			info.MinNotional = parseFloat(f.MinNotional)
		}
	}

	e.lotMu.Lock()
	e.lotCache[symbol] = info
	e.lotMu.Unlock()
	return info, nil
}

// OpenOrders lists in-flight orders, for one symbol or across the account.
func (e *Exchange) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	if e.dryRun {
		return e.simOpenOrders(symbol), nil
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", wireSymbol(symbol))
	}
	path := "/api/v3/openOrders?" + e.sign(params)
	resp, err := e.client.GET(ctx, path, e.authHeaders())
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	var raw []struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Status      string `json:"status"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
		Price       string `json:"price"`
		Time        int64  `json:"time"`
	}
	if err := resp.ParseJSON(&raw); err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	open := make([]types.OpenOrder, 0, len(raw))
	for _, o := range raw {
		qty := parseFloat(o.OrigQty)
		filled := parseFloat(o.ExecutedQty)
		open = append(open, types.OpenOrder{
			OrderID:   strconv.FormatInt(o.OrderID, 10),
			Symbol:    unwireSymbol(o.Symbol),
			Side:      o.Side,
			Qty:       qty,
			Remaining: qty - filled,
			Price:     parseFloat(o.Price),
			OpenedAt:  time.UnixMilli(o.Time),
			Status:    mapStatus(o.Status),
		})
	}
	return open, nil
}

// Simulated order endpoints for DRY_RUN. Limit orders fill on the second
// status poll so the executor sees a realistic pending phase.

func (e *Exchange) simPlace(ctx context.Context, req types.OrderReq, orderType string) (types.OrderResp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.simSeq++
	id := fmt.Sprintf("dry-%d", e.simSeq)
	status := types.OrderPending
	if orderType == "MARKET" {
		status = types.OrderFilled
	}
	e.simOrders[id] = &simOrder{
		symbol:   req.Symbol,
		side:     req.Side,
		qty:      req.Qty,
		price:    req.Price,
		status:   status,
		openedAt: time.Now(),
	}
	logger.Info(ctx, "DRY RUN: simulated order", "type", orderType, "symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "order_id", id)
	return types.OrderResp{OrderID: id, Status: status, Message: "dry run"}, nil
}

func (e *Exchange) simCancel(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.simOrders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	if order.status == types.OrderFilled {
		return fmt.Errorf("order %s already filled", orderID)
	}
	order.status = types.OrderCancelled
	logger.Info(ctx, "DRY RUN: simulated cancel", "order_id", orderID)
	return nil
}

func (e *Exchange) simStatus(ctx context.Context, orderID string) (types.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.simOrders[orderID]
	if !ok {
		return types.OrderState{}, fmt.Errorf("unknown order %s", orderID)
	}
	if order.status == types.OrderPending {
		order.polls++
		if order.polls > 1 {
			order.status = types.OrderFilled
		}
	}
	state := types.OrderState{
		OrderID: orderID,
		Symbol:  order.symbol,
		Side:    order.side,
		Status:  order.status,
		Qty:     order.qty,
	}
	if order.status == types.OrderFilled {
		state.FilledQty = order.qty
		state.AvgPrice = order.price
	}
	return state, nil
}

func (e *Exchange) simOpenOrders(symbol string) []types.OpenOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	var open []types.OpenOrder
	for id, order := range e.simOrders {
		if order.status != types.OrderPending {
			continue
		}
		if symbol != "" && order.symbol != symbol {
			continue
		}
		open = append(open, types.OpenOrder{
			OrderID:   id,
			Symbol:    order.symbol,
			Side:      order.side,
			Qty:       order.qty,
			Remaining: order.qty,
			Price:     order.price,
			OpenedAt:  order.openedAt,
			Status:    order.status,
		})
	}
	return open
}
