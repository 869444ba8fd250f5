package exchange

import (
	"fmt"
	"strconv"
	"sync"
)

// MockClient is an in-memory Client for tests. Market data is canned,
// orders are recorded, and fill behavior is scripted through
// FillLimitAfterPolls.
type MockClient struct {
	mu sync.Mutex

	Caps    Capability
	Sandbox bool

	MarketData map[string]*Market
	Tickers    map[string]*Ticker
	Series     map[string][]Candle // keyed symbol|timeframe
	Books      map[string]*OrderBook

	// FillLimitAfterPolls controls when FetchOrder reports a limit order
	// filled: 0 fills on the first poll, 1 on the second, and a negative
	// value leaves it open until canceled.
	FillLimitAfterPolls int

	LoadMarketsErr error
	TickerErr      error
	OHLCVErr       error
	BookErr        error
	OrderErr       error

	Calls    map[string]int
	Canceled []string

	nextID int64
	orders map[string]*Order
	polls  map[string]int
}

// NewMockClient returns a mock with every capability enabled and empty
// data tables.
func NewMockClient() *MockClient {
	return &MockClient{
		Caps:                CapStopLoss | CapTriggerOrder | CapSandbox,
		MarketData:          make(map[string]*Market),
		Tickers:             make(map[string]*Ticker),
		Series:              make(map[string][]Candle),
		Books:               make(map[string]*OrderBook),
		FillLimitAfterPolls: 0,
		Calls:               make(map[string]int),
		orders:              make(map[string]*Order),
		polls:               make(map[string]int),
	}
}

// AddMarket registers a tradable market with loose precision limits.
func (m *MockClient) AddMarket(symbol string) *Market {
	base, quote := splitSymbol(symbol)
	mkt := &Market{
		Symbol:          symbol,
		Base:            base,
		Quote:           quote,
		Active:          true,
		AmountPrecision: Precision{Digits: 8},
		PricePrecision:  Precision{Digits: 8},
	}
	m.MarketData[symbol] = mkt
	return mkt
}

// SetSeries registers candles for FetchOHLCV.
func (m *MockClient) SetSeries(symbol, timeframe string, candles []Candle) {
	m.Series[symbol+"|"+timeframe] = candles
}

func splitSymbol(symbol string) (string, string) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			return symbol[:i], symbol[i+1:]
		}
	}
	return symbol, ""
}

func (m *MockClient) count(name string) {
	m.Calls[name]++
}

// ID returns the exchange identifier
func (m *MockClient) ID() string { return "mock" }

func (m *MockClient) Capabilities() Capability { return m.Caps }

func (m *MockClient) SetSandboxMode(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sandbox = enabled
}

func (m *MockClient) LoadMarkets() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("LoadMarkets")
	return m.LoadMarketsErr
}

func (m *MockClient) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.MarketData))
	for sym := range m.MarketData {
		out = append(out, sym)
	}
	return out
}

func (m *MockClient) Market(symbol string) (*Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mkt, ok := m.MarketData[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, symbol)
	}
	cp := *mkt
	return &cp, nil
}

func (m *MockClient) FetchTicker(symbol string) (*Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("FetchTicker")
	if m.TickerErr != nil {
		return nil, m.TickerErr
	}
	t, ok := m.Tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("no ticker for %s", symbol)
	}
	cp := *t
	return &cp, nil
}

func (m *MockClient) FetchOHLCV(symbol, timeframe string, limit int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("FetchOHLCV")
	if m.OHLCVErr != nil {
		return nil, m.OHLCVErr
	}
	series, ok := m.Series[symbol+"|"+timeframe]
	if !ok {
		return nil, fmt.Errorf("no candles for %s %s", symbol, timeframe)
	}
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]Candle, len(series))
	copy(out, series)
	return out, nil
}

func (m *MockClient) FetchOrderBook(symbol string, depth int) (*OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("FetchOrderBook")
	if m.BookErr != nil {
		return nil, m.BookErr
	}
	b, ok := m.Books[symbol]
	if !ok {
		return nil, fmt.Errorf("no order book for %s", symbol)
	}
	cp := *b
	return &cp, nil
}

func (m *MockClient) newOrder(symbol string, side OrderSide, typ string, amount, price float64) *Order {
	m.nextID++
	return &Order{
		ID:        strconv.FormatInt(m.nextID, 10),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Status:    OrderOpen,
		Price:     price,
		Amount:    amount,
		Remaining: amount,
	}
}

func (m *MockClient) CreateLimitBuyOrder(symbol string, amount, price float64, trigger *Trigger) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("CreateLimitBuyOrder")
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	typ := "limit"
	if trigger != nil {
		typ = "stop_loss_limit"
	}
	o := m.newOrder(symbol, Buy, typ, amount, price)
	m.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (m *MockClient) CreateLimitSellOrder(symbol string, amount, price float64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("CreateLimitSellOrder")
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	o := m.newOrder(symbol, Sell, "limit", amount, price)
	m.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (m *MockClient) marketFill(symbol string, side OrderSide, amount float64) (*Order, error) {
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	price := 0.0
	if t, ok := m.Tickers[symbol]; ok {
		price = t.Last
	}
	o := m.newOrder(symbol, side, "market", amount, price)
	o.Status = OrderClosed
	o.Filled = amount
	o.Remaining = 0
	o.Average = price
	m.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (m *MockClient) CreateMarketBuyOrder(symbol string, amount float64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("CreateMarketBuyOrder")
	return m.marketFill(symbol, Buy, amount)
}

func (m *MockClient) CreateMarketSellOrder(symbol string, amount float64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("CreateMarketSellOrder")
	return m.marketFill(symbol, Sell, amount)
}

func (m *MockClient) CreateStopLossOrder(symbol string, amount, stopPrice float64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("CreateStopLossOrder")
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	o := m.newOrder(symbol, Sell, "stop_loss_limit", amount, stopPrice)
	m.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

// FetchOrder applies the scripted fill plan to open limit orders.
func (m *MockClient) FetchOrder(id, symbol string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("FetchOrder")
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	if o.Status == OrderOpen && o.Type == "limit" && m.FillLimitAfterPolls >= 0 {
		if m.polls[id] >= m.FillLimitAfterPolls {
			o.Status = OrderClosed
			o.Filled = o.Amount
			o.Remaining = 0
			o.Average = o.Price
		}
		m.polls[id]++
	}
	cp := *o
	return &cp, nil
}

// CloseOrder marks an order fully filled at avg, for scripting trigger
// and stop fills that the poll plan does not cover.
func (m *MockClient) CloseOrder(id string, avg float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s not found", id)
	}
	o.Status = OrderClosed
	o.Filled = o.Amount
	o.Remaining = 0
	o.Average = avg
	return nil
}

func (m *MockClient) CancelOrder(id, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("CancelOrder")
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s not found", id)
	}
	if o.Status == OrderOpen {
		o.Status = OrderCanceled
	}
	m.Canceled = append(m.Canceled, id)
	return nil
}

func (m *MockClient) FetchOpenOrders(symbol string) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("FetchOpenOrders")
	var out []*Order
	for _, o := range m.orders {
		if o.Symbol == symbol && o.Status == OrderOpen {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}
