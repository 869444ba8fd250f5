package market

import (
	"sync"
	"time"

	"momentum-trading-bot/internal/exchange"
)

// CachedCandles holds a candle series with its fetch time.
type CachedCandles struct {
	Data      []exchange.Candle
	Timeframe string
	UpdatedAt time.Time
}

// CachedTicker holds ticker data with its fetch time.
type CachedTicker struct {
	Data      *exchange.Ticker
	UpdatedAt time.Time
}

// CachedBook holds an order book snapshot with its fetch time.
type CachedBook struct {
	Data      *exchange.OrderBook
	UpdatedAt time.Time
}

type memoEntry struct {
	value     float64
	updatedAt time.Time
}

// dataCache provides thread-safe caching for market data. Staleness is
// checked on read so writers never need to expire entries.
type dataCache struct {
	candles sync.Map // "symbol:timeframe" -> *CachedCandles
	tickers sync.Map // symbol -> *CachedTicker
	books   sync.Map // symbol -> *CachedBook
	memos   sync.Map // computed indicator values, keyed by caller

	candleTTL time.Duration
	tickerTTL time.Duration
	bookTTL   time.Duration

	hitCount  int64
	missCount int64
	statsMu   sync.RWMutex
}

func newDataCache(candleTTL time.Duration) *dataCache {
	return &dataCache{
		candleTTL: candleTTL,
		tickerTTL: 10 * time.Second,
		bookTTL:   5 * time.Second,
	}
}

// GetCandles returns the trailing limit bars when a fresh series is
// cached, nil otherwise.
func (c *dataCache) GetCandles(symbol, timeframe string, limit int) []exchange.Candle {
	key := symbol + ":" + timeframe
	if val, ok := c.candles.Load(key); ok {
		cached := val.(*CachedCandles)
		if time.Since(cached.UpdatedAt) < c.candleTTL {
			c.recordHit()
			data := cached.Data
			if limit > 0 && len(data) > limit {
				return data[len(data)-limit:]
			}
			return data
		}
	}
	c.recordMiss()
	return nil
}

// SetCandles stores a full series. Empty series are never cached.
func (c *dataCache) SetCandles(symbol, timeframe string, candles []exchange.Candle) {
	if len(candles) == 0 {
		return
	}
	c.candles.Store(symbol+":"+timeframe, &CachedCandles{
		Data:      candles,
		Timeframe: timeframe,
		UpdatedAt: time.Now(),
	})
}

// GetTicker returns a fresh cached ticker or nil.
func (c *dataCache) GetTicker(symbol string) *exchange.Ticker {
	if val, ok := c.tickers.Load(symbol); ok {
		cached := val.(*CachedTicker)
		if time.Since(cached.UpdatedAt) < c.tickerTTL {
			c.recordHit()
			return cached.Data
		}
	}
	c.recordMiss()
	return nil
}

func (c *dataCache) SetTicker(symbol string, t *exchange.Ticker) {
	if t == nil {
		return
	}
	c.tickers.Store(symbol, &CachedTicker{Data: t, UpdatedAt: time.Now()})
}

// GetBook returns a fresh cached order book or nil.
func (c *dataCache) GetBook(symbol string) *exchange.OrderBook {
	if val, ok := c.books.Load(symbol); ok {
		cached := val.(*CachedBook)
		if time.Since(cached.UpdatedAt) < c.bookTTL {
			c.recordHit()
			return cached.Data
		}
	}
	c.recordMiss()
	return nil
}

func (c *dataCache) SetBook(symbol string, b *exchange.OrderBook) {
	if b == nil {
		return
	}
	c.books.Store(symbol, &CachedBook{Data: b, UpdatedAt: time.Now()})
}

// GetMemo returns a memoized indicator value when it is younger than ttl.
func (c *dataCache) GetMemo(key string, ttl time.Duration) (float64, bool) {
	if val, ok := c.memos.Load(key); ok {
		entry := val.(*memoEntry)
		if time.Since(entry.updatedAt) < ttl {
			c.recordHit()
			return entry.value, true
		}
	}
	c.recordMiss()
	return 0, false
}

func (c *dataCache) SetMemo(key string, value float64) {
	c.memos.Store(key, &memoEntry{value: value, updatedAt: time.Now()})
}

func (c *dataCache) recordHit() {
	c.statsMu.Lock()
	c.hitCount++
	c.statsMu.Unlock()
}

func (c *dataCache) recordMiss() {
	c.statsMu.Lock()
	c.missCount++
	c.statsMu.Unlock()
}

// Stats returns cache hit/miss counters and the hit rate percentage.
func (c *dataCache) Stats() (hits, misses int64, hitRate float64) {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	hits = c.hitCount
	misses = c.missCount
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return
}

// Clear removes all cached data.
func (c *dataCache) Clear() {
	c.candles = sync.Map{}
	c.tickers = sync.Map{}
	c.books = sync.Map{}
	c.memos = sync.Map{}
}
