// Package circuit halts new entries after sustained losses and lets
// trading resume gradually once a cooldown has passed.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"momentum-trading-bot/internal/events"
	"momentum-trading-bot/internal/logging"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // entries halted
	StateHalfOpen State = "half_open" // probing recovery after cooldown
)

// Config tunes the breaker. Disabled breakers allow everything.
type Config struct {
	Enabled              bool
	MaxConsecutiveLosses int
	MaxDailyLossPct      float64
	CooldownMinutes      int
}

// Snapshot is the current breaker state for status reporting.
type Snapshot struct {
	Enabled           bool      `json:"enabled"`
	State             State     `json:"state"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	DailyLossPct      float64   `json:"daily_loss_pct"`
	TripReason        string    `json:"trip_reason,omitempty"`
	LastTripTime      time.Time `json:"last_trip_time"`
}

// Breaker tracks realized trade results and trips open when losses pile
// up. After the cooldown it moves to half open; the next winning trade
// closes it, the next qualifying loss re-trips it.
type Breaker struct {
	mu  sync.Mutex
	cfg Config
	bus *events.EventBus
	log *logging.Logger

	state             State
	consecutiveLosses int
	dailyLossPct      float64
	dailyResetTime    time.Time
	lastTripTime      time.Time
	tripReason        string
}

// New builds a breaker. bus may be nil.
func New(cfg Config, bus *events.EventBus) *Breaker {
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = 3
	}
	if cfg.MaxDailyLossPct <= 0 {
		cfg.MaxDailyLossPct = 5.0
	}
	if cfg.CooldownMinutes <= 0 {
		cfg.CooldownMinutes = 60
	}
	now := time.Now()
	return &Breaker{
		cfg:            cfg,
		bus:            bus,
		log:            logging.WithComponent("circuit"),
		state:          StateClosed,
		dailyResetTime: now.Truncate(24 * time.Hour).Add(24 * time.Hour),
	}
}

// Enabled reports whether the breaker gates anything at all.
func (b *Breaker) Enabled() bool { return b.cfg.Enabled }

// CanTrade reports whether new entries are allowed, with the blocking
// reason when they are not.
func (b *Breaker) CanTrade() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetDailyIfNeeded()

	if b.state == StateOpen {
		elapsed := time.Since(b.lastTripTime)
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			return false, fmt.Sprintf("circuit open, cooldown remaining %v (reason: %s)",
				(cooldown - elapsed).Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
		b.log.Info("circuit half open, probing recovery")
	}

	if b.dailyLossPct >= b.cfg.MaxDailyLossPct {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%",
			b.dailyLossPct, b.cfg.MaxDailyLossPct)
	}
	if b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		return false, fmt.Sprintf("max consecutive losses reached: %d", b.consecutiveLosses)
	}
	return true, ""
}

// RecordTrade feeds one realized result, as a percentage, into the
// breaker. NaN and Inf values are discarded.
func (b *Breaker) RecordTrade(pnlPercent float64) {
	if !b.cfg.Enabled {
		return
	}
	if math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		b.log.Warn("discarding invalid pnl value")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetDailyIfNeeded()

	if pnlPercent < 0 {
		b.consecutiveLosses++
		b.dailyLossPct += -pnlPercent
	} else {
		b.consecutiveLosses = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.tripReason = ""
			b.log.Info("circuit closed after winning trade")
			b.publish(events.EventCircuitReset, map[string]interface{}{
				"reason": "winning_trade_after_cooldown",
			})
		}
	}

	b.checkAndTrip()
}

func (b *Breaker) checkAndTrip() {
	if b.state == StateOpen {
		return
	}
	var reason string
	if b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		reason = fmt.Sprintf("consecutive losses: %d", b.consecutiveLosses)
	} else if b.dailyLossPct >= b.cfg.MaxDailyLossPct {
		reason = fmt.Sprintf("daily loss: %.2f%%", b.dailyLossPct)
	}
	if reason == "" {
		return
	}

	b.state = StateOpen
	b.lastTripTime = time.Now()
	b.tripReason = reason
	b.log.Warn("circuit tripped", "reason", reason)
	b.publish(events.EventCircuitTripped, map[string]interface{}{
		"reason":             reason,
		"consecutive_losses": b.consecutiveLosses,
		"daily_loss_pct":     b.dailyLossPct,
	})
}

func (b *Breaker) resetDailyIfNeeded() {
	now := time.Now()
	if now.After(b.dailyResetTime) {
		b.dailyLossPct = 0
		b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

func (b *Breaker) publish(t events.EventType, data map[string]interface{}) {
	if b.bus != nil {
		b.bus.Publish(events.Event{Type: t, Data: data})
	}
}

// State returns the breaker position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot for status reporting.
func (b *Breaker) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Enabled:           b.cfg.Enabled,
		State:             b.state,
		ConsecutiveLosses: b.consecutiveLosses,
		DailyLossPct:      b.dailyLossPct,
		TripReason:        b.tripReason,
		LastTripTime:      b.lastTripTime,
	}
}
