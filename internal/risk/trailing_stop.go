package risk

import (
	"sync"
	"time"

	"momentum-trading-bot/internal/logging"
)

// TrailingStops tracks raise-only stops for spot longs. Used by the
// moving-average strategy; the engine's monitor trails its own stops.
type TrailingStops struct {
	distancePct float64
	positions   map[string]*TrailingPosition
	log         *logging.Logger
	mu          sync.RWMutex
}

// TrailingPosition is the tracked state for one symbol.
type TrailingPosition struct {
	Symbol        string
	EntryPrice    float64
	StopPrice     float64
	HighWaterMark float64
	LastUpdate    time.Time
}

// StopUpdate reports the outcome of a price observation.
type StopUpdate struct {
	Symbol       string
	OldStop      float64
	NewStop      float64
	Triggered    bool
	TriggerPrice float64
}

// NewTrailingStops builds a tracker with the given trail distance in
// percent of the high-water mark.
func NewTrailingStops(distancePct float64) *TrailingStops {
	return &TrailingStops{
		distancePct: distancePct,
		positions:   make(map[string]*TrailingPosition),
		log:         logging.WithComponent("trailing-stop"),
	}
}

// Track starts trailing a position from its entry price, with the
// initial stop one trail distance below it.
func (t *TrailingStops) Track(symbol string, entryPrice float64) {
	t.TrackFrom(symbol, entryPrice, entryPrice*(1-t.distancePct/100))
}

// TrackFrom starts trailing from an explicit initial stop, for entries
// whose protective stop is wider than the trail distance. Keys are
// opaque; callers with several positions per symbol key by order id.
func (t *TrailingStops) TrackFrom(key string, entryPrice, stopPrice float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.positions[key] = &TrailingPosition{
		Symbol:        key,
		EntryPrice:    entryPrice,
		StopPrice:     stopPrice,
		HighWaterMark: entryPrice,
		LastUpdate:    time.Now(),
	}
	t.log.Info("trailing started", "key", key, "entry", entryPrice, "stop", stopPrice)
}

// Untrack stops trailing a symbol.
func (t *TrailingStops) Untrack(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, symbol)
}

// Observe feeds a price. It returns a trigger when the price is at or
// below the stop, a raise when the high-water mark moved the stop up,
// and nil otherwise. The stop never moves down.
func (t *TrailingStops) Observe(symbol string, price float64) *StopUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return nil
	}
	pos.LastUpdate = time.Now()

	if price <= pos.StopPrice {
		return &StopUpdate{
			Symbol:       symbol,
			OldStop:      pos.StopPrice,
			NewStop:      pos.StopPrice,
			Triggered:    true,
			TriggerPrice: price,
		}
	}

	if price > pos.HighWaterMark {
		pos.HighWaterMark = price
	}

	newStop := pos.HighWaterMark * (1 - t.distancePct/100)
	if newStop > pos.StopPrice {
		old := pos.StopPrice
		pos.StopPrice = newStop
		t.log.Debug("stop raised", "symbol", symbol, "old", old, "new", newStop)
		return &StopUpdate{Symbol: symbol, OldStop: old, NewStop: newStop}
	}

	return nil
}

// StopPrice returns the current stop for a tracked symbol.
func (t *TrailingStops) StopPrice(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if pos, ok := t.positions[symbol]; ok {
		return pos.StopPrice, true
	}
	return 0, false
}
