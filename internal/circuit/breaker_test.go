package circuit

import (
	"math"
	"strings"
	"testing"
	"time"
)

func enabledConfig() Config {
	return Config{
		Enabled:              true,
		MaxConsecutiveLosses: 3,
		MaxDailyLossPct:      5,
		CooldownMinutes:      60,
	}
}

// TestDisabledBreakerAllowsEverything: a disabled breaker never blocks,
// no matter what gets recorded.
func TestDisabledBreakerAllowsEverything(t *testing.T) {
	b := New(Config{Enabled: false}, nil)
	for i := 0; i < 10; i++ {
		b.RecordTrade(-5)
	}
	if ok, reason := b.CanTrade(); !ok {
		t.Errorf("disabled breaker blocked trading: %s", reason)
	}
	if b.State() != StateClosed {
		t.Errorf("disabled breaker changed state: %s", b.State())
	}
}

// TestConsecutiveLossTrip: the third straight loss trips the breaker.
func TestConsecutiveLossTrip(t *testing.T) {
	b := New(enabledConfig(), nil)

	b.RecordTrade(-0.5)
	b.RecordTrade(-0.5)
	if ok, _ := b.CanTrade(); !ok {
		t.Fatal("two losses should not trip")
	}

	b.RecordTrade(-0.5)
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 losses, got %s", b.State())
	}
	ok, reason := b.CanTrade()
	if ok {
		t.Fatal("tripped breaker allowed trading")
	}
	if !strings.Contains(reason, "cooldown") {
		t.Errorf("reason should mention the cooldown: %q", reason)
	}
}

// TestWinResetsLossStreak: a winner in between keeps the streak below
// the limit.
func TestWinResetsLossStreak(t *testing.T) {
	b := New(enabledConfig(), nil)

	b.RecordTrade(-0.5)
	b.RecordTrade(-0.5)
	b.RecordTrade(1.0)
	b.RecordTrade(-0.5)
	b.RecordTrade(-0.5)

	if b.State() != StateClosed {
		t.Errorf("streak should have reset, state %s", b.State())
	}
}

// TestDailyLossTrip: a single loss beyond the daily budget trips it.
func TestDailyLossTrip(t *testing.T) {
	b := New(enabledConfig(), nil)
	b.RecordTrade(-6)

	if b.State() != StateOpen {
		t.Fatalf("expected open after 6%% daily loss, got %s", b.State())
	}
	if stats := b.Stats(); stats.DailyLossPct != 6 {
		t.Errorf("daily loss %v", stats.DailyLossPct)
	}
}

// TestInvalidPnLIgnored: NaN and Inf never move the counters.
func TestInvalidPnLIgnored(t *testing.T) {
	b := New(enabledConfig(), nil)
	b.RecordTrade(math.NaN())
	b.RecordTrade(math.Inf(-1))

	stats := b.Stats()
	if stats.ConsecutiveLosses != 0 || stats.DailyLossPct != 0 {
		t.Errorf("invalid values moved counters: %+v", stats)
	}
}

// TestHalfOpenRecovery: after the cooldown the breaker probes half open;
// a winning trade closes it again.
func TestHalfOpenRecovery(t *testing.T) {
	b := New(enabledConfig(), nil)
	b.RecordTrade(-2)
	b.RecordTrade(-2)
	b.RecordTrade(-2)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Backdate the trip so the cooldown has lapsed, and clear the loss
	// counters the way a new day would.
	b.mu.Lock()
	b.lastTripTime = time.Now().Add(-2 * time.Hour)
	b.consecutiveLosses = 0
	b.dailyLossPct = 0
	b.mu.Unlock()

	if ok, reason := b.CanTrade(); !ok {
		t.Fatalf("cooldown lapsed but trading blocked: %s", reason)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half open, got %s", b.State())
	}

	b.RecordTrade(1.5)
	if b.State() != StateClosed {
		t.Errorf("winning trade should close the breaker, got %s", b.State())
	}
}

// TestHalfOpenRetrip: losses during the probe re-open the breaker.
func TestHalfOpenRetrip(t *testing.T) {
	b := New(enabledConfig(), nil)
	b.RecordTrade(-6) // daily loss trip

	b.mu.Lock()
	b.lastTripTime = time.Now().Add(-2 * time.Hour)
	b.dailyLossPct = 0
	b.mu.Unlock()

	if ok, _ := b.CanTrade(); !ok {
		t.Fatal("expected half open probe")
	}
	b.RecordTrade(-6)
	if b.State() != StateOpen {
		t.Errorf("probe loss should re-trip, got %s", b.State())
	}
}
