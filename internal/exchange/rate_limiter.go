package exchange

import (
	"sync"
	"time"
)

// Binance spot request weights per endpoint. Endpoints not listed cost 1.
var endpointWeights = map[string]int{
	"/api/v3/exchangeInfo": 20,
	"/api/v3/klines":       2,
	"/api/v3/depth":        5,
	"/api/v3/ticker/24hr":  2, // with symbol; 80 without
	"/api/v3/ticker/price": 2,
	"/api/v3/order":        1,
	"/api/v3/openOrders":   6,
}

// weightLimiter keeps request weight under the per-minute budget the
// exchange enforces. Acquire blocks until the weight fits in the current
// minute window; it never rejects.
type weightLimiter struct {
	mu        sync.Mutex
	maxWeight int
	used      int
	resetAt   time.Time
}

func newWeightLimiter(maxWeight int) *weightLimiter {
	return &weightLimiter{
		maxWeight: maxWeight,
		resetAt:   time.Now().Add(time.Minute),
	}
}

// Acquire reserves weight for one request, sleeping across window resets
// when the budget is exhausted.
func (w *weightLimiter) Acquire(weight int) {
	for {
		w.mu.Lock()
		now := time.Now()
		if now.After(w.resetAt) {
			w.used = 0
			w.resetAt = now.Add(time.Minute)
		}
		if w.used+weight <= w.maxWeight {
			w.used += weight
			w.mu.Unlock()
			return
		}
		wait := time.Until(w.resetAt)
		w.mu.Unlock()

		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		time.Sleep(wait)
	}
}

// Usage returns the consumed share of the current window, 0..1.
func (w *weightLimiter) Usage() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if time.Now().After(w.resetAt) {
		return 0
	}
	return float64(w.used) / float64(w.maxWeight)
}

func weightFor(path string) int {
	if wt, ok := endpointWeights[path]; ok {
		return wt
	}
	return 1
}
