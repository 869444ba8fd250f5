package market

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"momentum-trading-bot/internal/exchange"
	"momentum-trading-bot/internal/logging"
)

const (
	fetchAttempts   = 3
	fetchRetryDelay = 2 * time.Second

	momentumMemoTTL    = 60 * time.Second
	volumeRatioMemoTTL = 5 * time.Minute
)

// ErrNoData is returned when the exchange has no usable data for a
// request after all retries. Scans skip symbols on this error.
var ErrNoData = errors.New("market: no data")

// stablecoins are quote-or-base assets that make a pair uninteresting
// when paired with each other.
var stablecoins = map[string]bool{
	"USDT": true,
	"USDC": true,
	"BUSD": true,
	"DAI":  true,
	"TUSD": true,
	"USDP": true,
	"GUSD": true,
}

// Config carries the provider tunables.
type Config struct {
	QuoteCurrencies []string
	CandleTTL       time.Duration
	Sectors         map[string][]string
}

// Provider serves cached market data and memoized indicators on top of
// an exchange client.
type Provider struct {
	client  exchange.Client
	cache   *dataCache
	log     *logging.Logger
	quotes  map[string]bool
	sectors map[string][]string

	fetchMu    sync.Mutex
	fetchLocks map[string]*sync.Mutex
}

// NewProvider builds a provider. Defaults: USDT quotes, 60 s candle TTL
// and the built-in sector map.
func NewProvider(client exchange.Client, cfg Config) *Provider {
	if len(cfg.QuoteCurrencies) == 0 {
		cfg.QuoteCurrencies = []string{"USDT"}
	}
	if cfg.CandleTTL <= 0 {
		cfg.CandleTTL = 60 * time.Second
	}
	if cfg.Sectors == nil {
		cfg.Sectors = DefaultSectors()
	}

	quotes := make(map[string]bool, len(cfg.QuoteCurrencies))
	for _, q := range cfg.QuoteCurrencies {
		quotes[strings.ToUpper(q)] = true
	}

	return &Provider{
		client:     client,
		cache:      newDataCache(cfg.CandleTTL),
		log:        logging.WithComponent("market-data"),
		quotes:     quotes,
		sectors:    cfg.Sectors,
		fetchLocks: make(map[string]*sync.Mutex),
	}
}

// IsTradable reports whether a symbol passes the spot filter: has a
// pair separator, no derivative suffix, an allowed quote, and is not a
// stablecoin-to-stablecoin pair.
func (p *Provider) IsTradable(symbol string) bool {
	if strings.Contains(symbol, ":") {
		return false
	}
	i := strings.Index(symbol, "/")
	if i <= 0 || i == len(symbol)-1 {
		return false
	}
	base, quote := symbol[:i], symbol[i+1:]
	if !p.quotes[quote] {
		return false
	}
	if stablecoins[base] && stablecoins[quote] {
		return false
	}
	return true
}

// TradableSymbols returns the filtered, sorted symbol universe.
func (p *Provider) TradableSymbols() []string {
	all := p.client.Symbols()
	out := make([]string, 0, len(all))
	for _, sym := range all {
		if p.IsTradable(sym) {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// SectorOf returns the configured sector for a symbol, or "".
func (p *Provider) SectorOf(symbol string) string {
	return SectorOf(p.sectors, symbol)
}

// Sectors returns the configured sector map.
func (p *Provider) Sectors() map[string][]string {
	return p.sectors
}

// keyLock serializes cache-miss fetches per key so concurrent callers
// trigger a single upstream request.
func (p *Provider) keyLock(key string) *sync.Mutex {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()
	l, ok := p.fetchLocks[key]
	if !ok {
		l = &sync.Mutex{}
		p.fetchLocks[key] = l
	}
	return l
}

// GetCandles returns up to limit bars for a symbol and timeframe,
// serving from cache when the cached series covers the request.
func (p *Provider) GetCandles(symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	if cached := p.cache.GetCandles(symbol, timeframe, limit); len(cached) >= limit {
		return cached, nil
	}

	lock := p.keyLock(symbol + ":" + timeframe)
	lock.Lock()
	defer lock.Unlock()

	if cached := p.cache.GetCandles(symbol, timeframe, limit); len(cached) >= limit {
		return cached, nil
	}

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		candles, err := p.client.FetchOHLCV(symbol, timeframe, limit)
		if err == nil && len(candles) > 0 {
			p.cache.SetCandles(symbol, timeframe, candles)
			return candles, nil
		}
		if err == nil {
			lastErr = ErrNoData
		} else {
			lastErr = err
		}
		p.log.Warn("candle fetch failed", "symbol", symbol, "timeframe", timeframe, "attempt", attempt, "error", lastErr)
		if attempt < fetchAttempts {
			time.Sleep(fetchRetryDelay)
		}
	}

	return nil, fmt.Errorf("error fetching candles for %s %s: %w", symbol, timeframe, lastErr)
}

// GetTicker returns a ticker, cached for 10 seconds.
func (p *Provider) GetTicker(symbol string) (*exchange.Ticker, error) {
	if cached := p.cache.GetTicker(symbol); cached != nil {
		return cached, nil
	}

	lock := p.keyLock("ticker:" + symbol)
	lock.Lock()
	defer lock.Unlock()

	if cached := p.cache.GetTicker(symbol); cached != nil {
		return cached, nil
	}

	ticker, err := p.client.FetchTicker(symbol)
	if err != nil {
		return nil, fmt.Errorf("error fetching ticker for %s: %w", symbol, err)
	}
	p.cache.SetTicker(symbol, ticker)
	return ticker, nil
}

// GetOrderBook returns a depth snapshot, cached for 5 seconds.
func (p *Provider) GetOrderBook(symbol string, depth int) (*exchange.OrderBook, error) {
	if cached := p.cache.GetBook(symbol); cached != nil {
		return cached, nil
	}

	lock := p.keyLock("book:" + symbol)
	lock.Lock()
	defer lock.Unlock()

	if cached := p.cache.GetBook(symbol); cached != nil {
		return cached, nil
	}

	book, err := p.client.FetchOrderBook(symbol, depth)
	if err != nil {
		return nil, fmt.Errorf("error fetching order book for %s: %w", symbol, err)
	}
	p.cache.SetBook(symbol, book)
	return book, nil
}

// CurrentPrice returns the last traded price.
func (p *Provider) CurrentPrice(symbol string) (float64, error) {
	ticker, err := p.GetTicker(symbol)
	if err != nil {
		return 0, err
	}
	if ticker.Last <= 0 {
		return 0, fmt.Errorf("%w: no price for %s", ErrNoData, symbol)
	}
	return ticker.Last, nil
}

// momentumLadder picks the timeframe for a momentum window: short
// windows read fine-grained bars, long windows read hourly ones.
func momentumLadder(windowMinutes int) (timeframe string, perBar, limit int) {
	switch {
	case windowMinutes <= 5:
		return "1m", 1, windowMinutes + 5
	case windowMinutes <= 15:
		return "5m", 5, windowMinutes/5 + 3
	case windowMinutes <= 60:
		return "15m", 15, windowMinutes/15 + 3
	default:
		return "1h", 60, windowMinutes/60 + 3
	}
}

// Momentum returns the percent price change across the window, memoized
// for 60 seconds.
func (p *Provider) Momentum(symbol string, windowMinutes int) (float64, error) {
	memoKey := fmt.Sprintf("mom:%s:%d", symbol, windowMinutes)
	if v, ok := p.cache.GetMemo(memoKey, momentumMemoTTL); ok {
		return v, nil
	}

	timeframe, perBar, limit := momentumLadder(windowMinutes)
	candles, err := p.GetCandles(symbol, timeframe, limit)
	if err != nil {
		return 0, err
	}
	if len(candles) < 2 {
		return 0, fmt.Errorf("%w: momentum needs 2 bars for %s", ErrNoData, symbol)
	}

	histIdx := windowMinutes / perBar
	if histIdx > len(candles)-1 {
		histIdx = len(candles) - 1
	}
	if histIdx < 1 {
		histIdx = 1
	}

	momentum := PercentChange(candles, histIdx)
	p.cache.SetMemo(memoKey, momentum)
	return momentum, nil
}

// VolumeRatio compares the last daily volume to the mean of the
// preceding days, memoized for 5 minutes.
func (p *Provider) VolumeRatio(symbol string, days int) (float64, error) {
	memoKey := fmt.Sprintf("volr:%s:%d", symbol, days)
	if v, ok := p.cache.GetMemo(memoKey, volumeRatioMemoTTL); ok {
		return v, nil
	}

	candles, err := p.GetCandles(symbol, "1d", days+1)
	if err != nil {
		return 0, err
	}
	if len(candles) < days/2 {
		return 0, fmt.Errorf("%w: %s has %d days of history, need %d", ErrNoData, symbol, len(candles), days/2)
	}

	ratio, ok := CalculateVolumeRatio(candles)
	if !ok {
		return 0, fmt.Errorf("%w: zero mean volume for %s", ErrNoData, symbol)
	}

	p.cache.SetMemo(memoKey, ratio)
	return ratio, nil
}

// ATRPercent returns the daily ATR as a percentage of the latest close,
// memoized for the candle TTL.
func (p *Provider) ATRPercent(symbol string, period int) (float64, error) {
	memoKey := fmt.Sprintf("atr:%s:%d", symbol, period)
	if v, ok := p.cache.GetMemo(memoKey, p.cache.candleTTL); ok {
		return v, nil
	}

	candles, err := p.GetCandles(symbol, "1d", period*2)
	if err != nil {
		return 0, err
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("%w: ATR needs %d bars for %s", ErrNoData, period+1, symbol)
	}

	atr := CalculateATR(candles, period)
	lastClose := candles[len(candles)-1].Close
	if lastClose <= 0 {
		return 0, fmt.Errorf("%w: zero close for %s", ErrNoData, symbol)
	}

	pct := atr / lastClose * 100
	p.cache.SetMemo(memoKey, pct)
	return pct, nil
}

// RSI returns the hourly RSI, memoized for the candle TTL.
func (p *Provider) RSI(symbol string, period int) (float64, error) {
	memoKey := fmt.Sprintf("rsi:%s:%d", symbol, period)
	if v, ok := p.cache.GetMemo(memoKey, p.cache.candleTTL); ok {
		return v, nil
	}

	candles, err := p.GetCandles(symbol, "1h", period*3)
	if err != nil {
		return 0, err
	}

	rsi := CalculateRSI(candles, period)
	p.cache.SetMemo(memoKey, rsi)
	return rsi, nil
}

// MaxDrawdown returns the worst peak-to-close decline over the last
// days, in percent.
func (p *Provider) MaxDrawdown(symbol string, days int) (float64, error) {
	candles, err := p.GetCandles(symbol, "1d", days)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("%w: no daily bars for %s", ErrNoData, symbol)
	}
	return CalculateMaxDrawdown(candles), nil
}

// TradingVolumeUSD returns the summed dollar volume over the last days.
func (p *Provider) TradingVolumeUSD(symbol string, days int) (float64, error) {
	candles, err := p.GetCandles(symbol, "1d", days)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("%w: no daily bars for %s", ErrNoData, symbol)
	}
	return CalculateDollarVolume(candles), nil
}

// PreviousHigh returns the highest high over the last days.
func (p *Provider) PreviousHigh(symbol string, days int) (float64, error) {
	candles, err := p.GetCandles(symbol, "1d", days)
	if err != nil {
		return 0, err
	}
	high := HighestHigh(candles)
	if high <= 0 {
		return 0, fmt.Errorf("%w: no highs for %s", ErrNoData, symbol)
	}
	return high, nil
}

// HistoricalPrice returns the close nearest to minutesAgo in the past.
func (p *Provider) HistoricalPrice(symbol string, minutesAgo int) (float64, error) {
	var timeframe string
	var perBar int
	switch {
	case minutesAgo <= 5:
		timeframe, perBar = "1m", 1
	case minutesAgo <= 60:
		timeframe, perBar = "5m", 5
	case minutesAgo <= 240:
		timeframe, perBar = "15m", 15
	default:
		timeframe, perBar = "1h", 60
	}

	limit := minutesAgo/perBar + 3
	if limit > 100 {
		limit = 100
	}

	candles, err := p.GetCandles(symbol, timeframe, limit)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("%w: no bars for %s", ErrNoData, symbol)
	}

	target := time.Now().Add(-time.Duration(minutesAgo) * time.Minute).UnixMilli()
	best := candles[0]
	bestDiff := math.Abs(float64(candles[0].Timestamp - target))
	for _, c := range candles[1:] {
		diff := math.Abs(float64(c.Timestamp - target))
		if diff < bestDiff {
			best = c
			bestDiff = diff
		}
	}
	return best.Close, nil
}

// CacheStats exposes cache hit/miss counters for diagnostics.
func (p *Provider) CacheStats() (hits, misses int64, hitRate float64) {
	return p.cache.Stats()
}
