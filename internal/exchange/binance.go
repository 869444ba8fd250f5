package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const (
	binanceBaseURL    = "https://api.binance.com"
	binanceTestnetURL = "https://testnet.binance.vision"
	binanceMaxWeight  = 1200 // spot request weight per minute
)

// ErrUnknownMarket is returned when a symbol was not present in the last
// LoadMarkets snapshot.
var ErrUnknownMarket = errors.New("exchange: unknown market")

// BinanceClient implements Client against the Binance spot REST API.
type BinanceClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *weightLimiter
	breaker    *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	markets map[string]*Market // unified symbol -> market
	raw     map[string]string  // unified symbol -> exchange symbol
	unified map[string]string  // exchange symbol -> unified symbol
}

// NewBinanceClient builds a spot client. Keys may be empty for read-only
// market data use.
func NewBinanceClient(apiKey, secretKey string) *BinanceClient {
	return &BinanceClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    binanceBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    newWeightLimiter(binanceMaxWeight),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "binance-rest",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		markets: make(map[string]*Market),
		raw:     make(map[string]string),
		unified: make(map[string]string),
	}
}

// ID returns the exchange identifier
func (c *BinanceClient) ID() string { return "binance" }

// Capabilities reports native stop-loss, trigger orders and testnet.
func (c *BinanceClient) Capabilities() Capability {
	return CapStopLoss | CapTriggerOrder | CapSandbox
}

// SetSandboxMode points the client at the spot testnet.
func (c *BinanceClient) SetSandboxMode(enabled bool) {
	if enabled {
		c.baseURL = binanceTestnetURL
	} else {
		c.baseURL = binanceBaseURL
	}
}

// binanceSymbolInfo mirrors the exchangeInfo symbols entries.
type binanceSymbolInfo struct {
	Symbol               string `json:"symbol"`
	Status               string `json:"status"`
	BaseAsset            string `json:"baseAsset"`
	QuoteAsset           string `json:"quoteAsset"`
	IsSpotTradingAllowed bool   `json:"isSpotTradingAllowed"`
	Filters              []struct {
		FilterType  string `json:"filterType"`
		StepSize    string `json:"stepSize"`
		TickSize    string `json:"tickSize"`
		MinNotional string `json:"minNotional"`
	} `json:"filters"`
}

// LoadMarkets fetches exchange info and rebuilds the market tables.
func (c *BinanceClient) LoadMarkets() error {
	body, err := c.get("/api/v3/exchangeInfo", nil)
	if err != nil {
		return fmt.Errorf("error fetching exchange info: %w", err)
	}

	var info struct {
		Symbols []binanceSymbolInfo `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("error parsing exchange info: %w", err)
	}

	markets := make(map[string]*Market, len(info.Symbols))
	raw := make(map[string]string, len(info.Symbols))
	unified := make(map[string]string, len(info.Symbols))

	for _, s := range info.Symbols {
		if !s.IsSpotTradingAllowed {
			continue
		}
		sym := s.BaseAsset + "/" + s.QuoteAsset
		m := &Market{
			Symbol: sym,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				m.AmountPrecision = stepPrecision(f.StepSize)
			case "PRICE_FILTER":
				m.PricePrecision = stepPrecision(f.TickSize)
			case "NOTIONAL", "MIN_NOTIONAL":
				m.MinNotional = parseFloat(f.MinNotional)
			}
		}
		markets[sym] = m
		raw[sym] = s.Symbol
		unified[s.Symbol] = sym
	}

	c.mu.Lock()
	c.markets = markets
	c.raw = raw
	c.unified = unified
	c.mu.Unlock()

	return nil
}

// stepPrecision converts a Binance filter step string ("0.00100000") into
// a Precision. Steps that are exact powers of ten also get Digits set so
// callers can derive tick sizes either way.
func stepPrecision(step string) Precision {
	v := parseFloat(step)
	p := Precision{Step: v}
	trimmed := strings.TrimRight(step, "0")
	if i := strings.Index(trimmed, "."); i >= 0 {
		p.Digits = len(trimmed) - i - 1
	}
	return p
}

// Symbols returns the unified symbols from the last LoadMarkets call.
func (c *BinanceClient) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.markets))
	for sym := range c.markets {
		out = append(out, sym)
	}
	return out
}

// Market returns metadata for one unified symbol.
func (c *BinanceClient) Market(symbol string) (*Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, symbol)
	}
	cp := *m
	return &cp, nil
}

func (c *BinanceClient) rawSymbol(symbol string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.raw[symbol]; ok {
		return r, nil
	}
	// Fall back to stripping the separator so market-data calls work
	// before LoadMarkets has run.
	if i := strings.Index(symbol, "/"); i > 0 {
		return symbol[:i] + symbol[i+1:], nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownMarket, symbol)
}

// FetchTicker returns last price, 24h quote volume and percent change.
func (c *BinanceClient) FetchTicker(symbol string) (*Ticker, error) {
	rawSym, err := c.rawSymbol(symbol)
	if err != nil {
		return nil, err
	}

	body, err := c.get("/api/v3/ticker/24hr", url.Values{"symbol": {rawSym}})
	if err != nil {
		return nil, fmt.Errorf("error fetching ticker: %w", err)
	}

	var t struct {
		LastPrice          float64 `json:"lastPrice,string"`
		QuoteVolume        float64 `json:"quoteVolume,string"`
		PriceChangePercent float64 `json:"priceChangePercent,string"`
	}
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("error parsing ticker: %w", err)
	}

	return &Ticker{
		Symbol:        symbol,
		Last:          t.LastPrice,
		QuoteVolume:   t.QuoteVolume,
		PercentChange: t.PriceChangePercent,
	}, nil
}

// FetchOHLCV fetches candles, oldest first.
func (c *BinanceClient) FetchOHLCV(symbol, timeframe string, limit int) ([]Candle, error) {
	rawSym, err := c.rawSymbol(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", rawSym)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get("/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	candles := make([]Candle, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 6 {
			return nil, fmt.Errorf("error parsing klines: short row %d", i)
		}
		candles[i] = Candle{
			Timestamp: int64(raw[0].(float64)),
			Open:      parseFloat(raw[1]),
			High:      parseFloat(raw[2]),
			Low:       parseFloat(raw[3]),
			Close:     parseFloat(raw[4]),
			Volume:    parseFloat(raw[5]),
		}
	}

	return candles, nil
}

// FetchOrderBook fetches a depth snapshot.
func (c *BinanceClient) FetchOrderBook(symbol string, depth int) (*OrderBook, error) {
	rawSym, err := c.rawSymbol(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", rawSym)
	params.Set("limit", strconv.Itoa(depth))

	body, err := c.get("/api/v3/depth", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching order book: %w", err)
	}

	var raw struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing order book: %w", err)
	}

	book := &OrderBook{Symbol: symbol}
	for _, lvl := range raw.Asks {
		if len(lvl) < 2 {
			continue
		}
		book.Asks = append(book.Asks, BookLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	for _, lvl := range raw.Bids {
		if len(lvl) < 2 {
			continue
		}
		book.Bids = append(book.Bids, BookLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}

	return book, nil
}

// CreateLimitBuyOrder places a limit buy, optionally behind a price
// trigger. Above-triggers map to STOP_LOSS_LIMIT buys, below-triggers to
// TAKE_PROFIT_LIMIT buys (Binance trigger semantics for the buy side).
func (c *BinanceClient) CreateLimitBuyOrder(symbol string, amount, price float64, trigger *Trigger) (*Order, error) {
	params := map[string]string{
		"side":        "BUY",
		"type":        "LIMIT",
		"timeInForce": "GTC",
		"quantity":    formatFloat(amount),
		"price":       formatFloat(price),
	}
	if trigger != nil {
		params["stopPrice"] = formatFloat(trigger.Price)
		if trigger.Direction == TriggerAbove {
			params["type"] = "STOP_LOSS_LIMIT"
		} else {
			params["type"] = "TAKE_PROFIT_LIMIT"
		}
	}
	return c.placeOrder(symbol, params)
}

// CreateLimitSellOrder places a plain limit sell.
func (c *BinanceClient) CreateLimitSellOrder(symbol string, amount, price float64) (*Order, error) {
	return c.placeOrder(symbol, map[string]string{
		"side":        "SELL",
		"type":        "LIMIT",
		"timeInForce": "GTC",
		"quantity":    formatFloat(amount),
		"price":       formatFloat(price),
	})
}

// CreateMarketBuyOrder buys at market.
func (c *BinanceClient) CreateMarketBuyOrder(symbol string, amount float64) (*Order, error) {
	return c.placeOrder(symbol, map[string]string{
		"side":     "BUY",
		"type":     "MARKET",
		"quantity": formatFloat(amount),
	})
}

// CreateMarketSellOrder sells at market.
func (c *BinanceClient) CreateMarketSellOrder(symbol string, amount float64) (*Order, error) {
	return c.placeOrder(symbol, map[string]string{
		"side":     "SELL",
		"type":     "MARKET",
		"quantity": formatFloat(amount),
	})
}

// CreateStopLossOrder places a native stop-limit sell at the stop price.
func (c *BinanceClient) CreateStopLossOrder(symbol string, amount, stopPrice float64) (*Order, error) {
	return c.placeOrder(symbol, map[string]string{
		"side":        "SELL",
		"type":        "STOP_LOSS_LIMIT",
		"timeInForce": "GTC",
		"quantity":    formatFloat(amount),
		"price":       formatFloat(stopPrice),
		"stopPrice":   formatFloat(stopPrice),
	})
}

func (c *BinanceClient) placeOrder(symbol string, params map[string]string) (*Order, error) {
	rawSym, err := c.rawSymbol(symbol)
	if err != nil {
		return nil, err
	}
	params["symbol"] = rawSym
	params["newClientOrderId"] = newClientOrderID()

	body, err := c.signedRequest("POST", "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}

	var resp binanceOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	return c.toOrder(&resp, symbol), nil
}

// FetchOrder queries one order by exchange id.
func (c *BinanceClient) FetchOrder(id, symbol string) (*Order, error) {
	rawSym, err := c.rawSymbol(symbol)
	if err != nil {
		return nil, err
	}

	body, err := c.signedRequest("GET", "/api/v3/order", map[string]string{
		"symbol":  rawSym,
		"orderId": id,
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching order: %w", err)
	}

	var resp binanceOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}

	return c.toOrder(&resp, symbol), nil
}

// CancelOrder cancels an open order.
func (c *BinanceClient) CancelOrder(id, symbol string) error {
	rawSym, err := c.rawSymbol(symbol)
	if err != nil {
		return err
	}

	_, err = c.signedRequest("DELETE", "/api/v3/order", map[string]string{
		"symbol":  rawSym,
		"orderId": id,
	})
	if err != nil {
		return fmt.Errorf("error canceling order: %w", err)
	}
	return nil
}

// FetchOpenOrders lists open orders for one symbol.
func (c *BinanceClient) FetchOpenOrders(symbol string) ([]*Order, error) {
	rawSym, err := c.rawSymbol(symbol)
	if err != nil {
		return nil, err
	}

	body, err := c.signedRequest("GET", "/api/v3/openOrders", map[string]string{
		"symbol": rawSym,
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching open orders: %w", err)
	}

	var resp []binanceOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing open orders: %w", err)
	}

	orders := make([]*Order, len(resp))
	for i := range resp {
		orders[i] = c.toOrder(&resp[i], symbol)
	}
	return orders, nil
}

// binanceOrder mirrors the REST order payload.
type binanceOrder struct {
	Symbol              string  `json:"symbol"`
	OrderID             int64   `json:"orderId"`
	ClientOrderID       string  `json:"clientOrderId"`
	TransactTime        int64   `json:"transactTime"`
	Time                int64   `json:"time"`
	Price               float64 `json:"price,string"`
	OrigQty             float64 `json:"origQty,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	StopPrice           float64 `json:"stopPrice,string"`
	Status              string  `json:"status"`
	Type                string  `json:"type"`
	Side                string  `json:"side"`
}

func (c *BinanceClient) toOrder(o *binanceOrder, symbol string) *Order {
	ts := o.TransactTime
	if ts == 0 {
		ts = o.Time
	}
	avg := o.Price
	if o.ExecutedQty > 0 && o.CummulativeQuoteQty > 0 {
		avg = o.CummulativeQuoteQty / o.ExecutedQty
	}
	return &Order{
		ID:            strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          OrderSide(strings.ToLower(o.Side)),
		Type:          strings.ToLower(o.Type),
		Status:        mapOrderStatus(o.Status),
		Price:         o.Price,
		Amount:        o.OrigQty,
		Filled:        o.ExecutedQty,
		Remaining:     o.OrigQty - o.ExecutedQty,
		Average:       avg,
		Timestamp:     ts,
	}
}

func mapOrderStatus(s string) OrderStatus {
	switch s {
	case "FILLED":
		return OrderClosed
	case "CANCELED", "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		return OrderCanceled
	default: // NEW, PARTIALLY_FILLED, PENDING_CANCEL
		return OrderOpen
	}
}

// get performs an unsigned GET through the limiter and breaker.
func (c *BinanceClient) get(path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	c.limiter.Acquire(weightFor(path))

	body, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Get(endpoint)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("error reading response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API error: %s", string(data))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

// signedRequest performs an authenticated request. The signature covers
// the encoded query string, so the query is built once and reused.
func (c *BinanceClient) signedRequest(method, path string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	query := values.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	c.limiter.Acquire(weightFor(path))

	body, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("error reading response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API error: %s", string(data))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

// sign creates an HMAC-SHA256 signature over the query string.
func (c *BinanceClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func newClientOrderID() string {
	return "mtb-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
