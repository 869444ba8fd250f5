package exchange

import "math"

// Candle represents one OHLCV bar. Bars are always ordered ascending by
// timestamp; the most recent bar is the last element.
type Candle struct {
	Timestamp int64   `json:"timestamp"` // open time, milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Ticker carries the last trade price and 24h statistics for one symbol.
type Ticker struct {
	Symbol        string  `json:"symbol"`
	Last          float64 `json:"last"`
	QuoteVolume   float64 `json:"quote_volume"`
	PercentChange float64 `json:"percent_change"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a depth snapshot. Asks ascend by price, bids descend.
type OrderBook struct {
	Symbol string      `json:"symbol"`
	Asks   []BookLevel `json:"asks"`
	Bids   []BookLevel `json:"bids"`
}

// Precision expresses an exchange rounding rule: either a count of
// decimal digits or an explicit step. A step > 0 takes precedence.
type Precision struct {
	Digits int     `json:"digits"`
	Step   float64 `json:"step,omitempty"`
}

// Tick returns the smallest increment the rule allows.
func (p Precision) Tick() float64 {
	if p.Step > 0 {
		return p.Step
	}
	return math.Pow(10, -float64(p.Digits))
}

// Floor truncates v down onto the precision grid. Orders sized above
// the held balance get rejected, so amounts always round down.
func (p Precision) Floor(v float64) float64 {
	if p.Step > 0 {
		return math.Floor(v/p.Step) * p.Step
	}
	factor := math.Pow(10, float64(p.Digits))
	return math.Floor(v*factor) / factor
}

// Market describes one tradable spot market.
type Market struct {
	Symbol          string    `json:"symbol"` // unified "BASE/QUOTE" form
	Base            string    `json:"base"`
	Quote           string    `json:"quote"`
	Active          bool      `json:"active"`
	AmountPrecision Precision `json:"amount_precision"`
	PricePrecision  Precision `json:"price_precision"`
	MinNotional     float64   `json:"min_notional"` // 0 when the exchange does not publish one
}

// OrderStatus is the unified lifecycle state of an order.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderClosed   OrderStatus = "closed"
	OrderCanceled OrderStatus = "canceled"
)

// OrderSide distinguishes buys from sells.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Order is the unified view of an exchange order.
type Order struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Type          string      `json:"type"` // limit, market, stop_loss
	Status        OrderStatus `json:"status"`
	Price         float64     `json:"price"`
	Amount        float64     `json:"amount"`
	Filled        float64     `json:"filled"`
	Remaining     float64     `json:"remaining"`
	Average       float64     `json:"average"` // volume-weighted fill price
	Timestamp     int64       `json:"timestamp"`
}

// TriggerDirection tells a conditional order which way price must cross.
type TriggerDirection string

const (
	TriggerAbove TriggerDirection = "above"
	TriggerBelow TriggerDirection = "below"
)

// Trigger attaches a price trigger to a limit order. Only honored by
// clients that report CapTriggerOrder.
type Trigger struct {
	Price     float64
	Direction TriggerDirection
}

// Capability is an explicit feature set advertised by a client. Callers
// branch on capabilities instead of probing for optional methods.
type Capability uint8

const (
	CapStopLoss Capability = 1 << iota
	CapTriggerOrder
	CapSandbox
)

// Has reports whether all bits of want are present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}
