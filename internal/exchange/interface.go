package exchange

// Client is the uniform adapter the trading core consumes. One instance
// per configured exchange. Implementations must be safe for concurrent
// use; the scan workers and the position monitor share a client.
type Client interface {
	// ID returns the configured exchange identifier, e.g. "binance".
	ID() string

	// Capabilities reports the optional features this client supports.
	Capabilities() Capability

	// SetSandboxMode redirects the client to the exchange testnet.
	// Only meaningful when CapSandbox is set.
	SetSandboxMode(enabled bool)

	// LoadMarkets fetches market metadata. Must be called before Symbols
	// or Market. Safe to call repeatedly; later calls refresh.
	LoadMarkets() error

	// Symbols returns all unified "BASE/QUOTE" symbols from the last
	// LoadMarkets call.
	Symbols() []string

	// Market returns metadata for one symbol.
	Market(symbol string) (*Market, error)

	FetchTicker(symbol string) (*Ticker, error)
	FetchOHLCV(symbol, timeframe string, limit int) ([]Candle, error)
	FetchOrderBook(symbol string, depth int) (*OrderBook, error)

	// CreateLimitBuyOrder places a limit buy. A non-nil trigger makes it
	// a conditional order; passing one to a client without
	// CapTriggerOrder is an error.
	CreateLimitBuyOrder(symbol string, amount, price float64, trigger *Trigger) (*Order, error)
	CreateLimitSellOrder(symbol string, amount, price float64) (*Order, error)
	CreateMarketBuyOrder(symbol string, amount float64) (*Order, error)
	CreateMarketSellOrder(symbol string, amount float64) (*Order, error)

	// CreateStopLossOrder places an exchange-native stop sell. Requires
	// CapStopLoss.
	CreateStopLossOrder(symbol string, amount, stopPrice float64) (*Order, error)

	FetchOrder(id, symbol string) (*Order, error)
	CancelOrder(id, symbol string) error
	FetchOpenOrders(symbol string) ([]*Order, error)
}

// Ensure implementations satisfy the interface.
var _ Client = (*BinanceClient)(nil)
var _ Client = (*MockClient)(nil)
