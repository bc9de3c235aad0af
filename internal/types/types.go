package types

import "time"

// Candle is one OHLCV bar, oldest-first in slices.
type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// Ticker is a point-in-time quote for a symbol.
type Ticker struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Ts     int64
}

// Mid returns the bid/ask midpoint, falling back to the last trade price.
func (t Ticker) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// Balance is an exchange asset balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// LotSizeInfo carries exchange-mandated order constraints for a symbol.
type LotSizeInfo struct {
	Symbol      string
	StepSize    float64 // Minimum quantity increment
	MinQty      float64
	MinNotional float64 // Minimum order value in quote currency
}

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// OrderStatus is an order state as reported by the exchange.
type OrderStatus string

const (
	OrderFilled    OrderStatus = "FILLED"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderPending   OrderStatus = "PENDING"
	OrderCancelled OrderStatus = "CANCELLED"
)

// OrderReq is an order placement request.
type OrderReq struct {
	Symbol   string
	Side     string
	Qty      float64
	Price    float64 // Limit price; ignored for market orders
	ClientID int64   // Timestamp-derived client order id
}

// OrderResp is the exchange acknowledgement of a placed order.
type OrderResp struct {
	OrderID string
	Status  OrderStatus
	Message string
}

// OrderState is the polled state of a placed order.
type OrderState struct {
	OrderID   string
	Symbol    string
	Side      string
	Status    OrderStatus
	Qty       float64
	FilledQty float64
	AvgPrice  float64 // Exchange-reported average fill price, 0 if unknown
	Fee       float64
}

// OpenOrder is an in-flight order as reported by the exchange. The exchange
// is the source of truth for these; they are never duplicated into the ledger.
type OpenOrder struct {
	OrderID   string
	Symbol    string
	Side      string
	Qty       float64
	Remaining float64
	Price     float64
	OpenedAt  time.Time
	Status    OrderStatus
}

// Decision is one allocator output: buy or sell this quantity of a symbol.
type Decision struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price"` // Reference price at decision time
	Reason string  `json:"reason"`
	Score  float64 `json:"score,omitempty"`
}

// Position statuses.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

// Position is a ledger-tracked holding. At most one open position per symbol
// per bot.
type Position struct {
	ID         int64
	BotID      string
	Symbol     string
	Qty        float64
	EntryPrice float64
	Status     string
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Value returns the position's value marked at price.
func (p Position) Value(price float64) float64 {
	return p.Qty * price
}

// EntryValue returns the position's value at its entry price.
func (p Position) EntryValue() float64 {
	return p.Qty * p.EntryPrice
}

// Trade is an append-only fill record; the authoritative cash-flow input.
type Trade struct {
	ID      int64
	Symbol  string
	Side    string
	Qty     float64
	Price   float64
	Fee     float64
	OrderID string
	Ts      time.Time
}

// Signal is one indicator snapshot per symbol per cycle, append-only.
type Signal struct {
	ID           int64
	Symbol       string
	EMAShort     float64
	EMALong      float64
	RSI          float64
	Score        float64
	CadenceHours int
	GeneratedAt  time.Time
}

// Metric is an append-only time-series value; "current" is the latest row
// for a key.
type Metric struct {
	ID    int64
	Key   string
	Value float64
	Ts    time.Time
}

// Well-known metric keys.
const (
	MetricNAV      = "nav"
	MetricFees     = "fees_cumulative"
	MetricDailyPnL = "daily_realized_pnl"
)

// Indicators is the computed bundle the allocator ranks on.
type Indicators struct {
	EMAShort  float64
	EMALong   float64
	RSI       float64
	Score     float64
	Change24h float64 // 24h return in percent, used by the volatility pause
}
