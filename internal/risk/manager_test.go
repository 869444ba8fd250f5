package risk

import (
	"testing"
	"time"

	"momentum-trading-bot/internal/analyzer"
	"momentum-trading-bot/internal/exchange"
	"momentum-trading-bot/internal/market"
	"momentum-trading-bot/internal/signal"
)

func newTestManager(cfg Config) (*Manager, *exchange.MockClient) {
	mock := exchange.NewMockClient()
	provider := market.NewProvider(mock, market.Config{CandleTTL: time.Minute})
	m := NewManager(provider, cfg)
	m.BatchPause = 0
	return m, mock
}

func baseConfig() Config {
	return Config{
		MaxRiskPerTrade:     10,
		MaxTotalRisk:        30,
		MaxSectorAllocation: 0.4,
		AccountBalance:      10000,
	}
}

func dailyBars(n int, high, low, close, volume float64) []exchange.Candle {
	out := make([]exchange.Candle, n)
	for i := range out {
		out[i] = exchange.Candle{High: high, Low: low, Close: close, Volume: volume}
	}
	return out
}

func testSignal(symbol string, state analyzer.MarketState, score float64, sector string) signal.Signal {
	return signal.Signal{
		Symbol:      symbol,
		RSI:         55,
		EntryPrice:  100,
		Score:       score,
		Sector:      sector,
		MarketState: state,
		Timestamp:   time.Now(),
	}
}

// TestCheckMarketRisk covers the BTC volatility gate and its allow-on-
// error default.
func TestCheckMarketRisk(t *testing.T) {
	m, mock := newTestManager(baseConfig())
	mock.SetSeries("BTC/USDT", "1d", dailyBars(15, 110, 90, 100, 1)) // ATR 20%
	if m.CheckMarketRisk() {
		t.Error("20%% ATR should block entries")
	}

	m, mock = newTestManager(baseConfig())
	mock.SetSeries("BTC/USDT", "1d", dailyBars(15, 101, 99, 100, 1)) // ATR 2%
	if !m.CheckMarketRisk() {
		t.Error("2%% ATR should allow entries")
	}
}

// TestFilterSignals drops blacklisted, overbought and held symbols.
func TestFilterSignals(t *testing.T) {
	m, _ := newTestManager(baseConfig())
	m.blacklist["BAD/USDT"] = struct{}{}
	m.CalculatePositionSize(testSignal("HELD/USDT", analyzer.Bull, 60, ""))

	overbought := testSignal("HOT/USDT", analyzer.Bull, 60, "")
	overbought.RSI = 80

	in := []signal.Signal{
		testSignal("BAD/USDT", analyzer.Bull, 60, ""),
		overbought,
		testSignal("HELD/USDT", analyzer.Bull, 60, ""),
		testSignal("OK/USDT", analyzer.Bull, 60, ""),
	}

	out := m.FilterSignals(in)
	if len(out) != 1 || out[0].Symbol != "OK/USDT" {
		t.Errorf("unexpected filter result %v", out)
	}
}

// TestCanOpenPositionTotalCap checks gate (a): the total risk budget.
func TestCanOpenPositionTotalCap(t *testing.T) {
	m, _ := newTestManager(baseConfig())

	for i, sym := range []string{"A/USDT", "B/USDT", "C/USDT"} {
		sig := testSignal(sym, analyzer.Bull, 60, "")
		if ok, reason := m.CanOpenPosition(sig); !ok {
			t.Fatalf("position %d rejected: %s", i, reason)
		}
		m.CalculatePositionSize(sig)
	}

	if ok, _ := m.CanOpenPosition(testSignal("D/USDT", analyzer.Bull, 60, "")); ok {
		t.Error("fourth position should exceed the 30%% total cap")
	}
}

// TestCanOpenPositionSectorCap checks gate (b): 0.4 * 30 = 12%% per
// sector, so a second 10%% DeFi position must be rejected.
func TestCanOpenPositionSectorCap(t *testing.T) {
	m, _ := newTestManager(baseConfig())

	first := testSignal("UNI/USDT", analyzer.Bull, 60, "DeFi")
	if ok, reason := m.CanOpenPosition(first); !ok {
		t.Fatalf("first DeFi position rejected: %s", reason)
	}
	m.CalculatePositionSize(first)

	second := testSignal("AAVE/USDT", analyzer.Bull, 60, "DeFi")
	if ok, _ := m.CanOpenPosition(second); ok {
		t.Error("second DeFi position should exceed the sector cap")
	}

	// A sectorless signal is not bound by the sector cap.
	if ok, reason := m.CanOpenPosition(testSignal("XYZ/USDT", analyzer.Bull, 60, "")); !ok {
		t.Errorf("sectorless signal rejected: %s", reason)
	}
}

// TestCanOpenPositionBearGate checks gate (c): bear regimes demand a
// score of at least 70.
func TestCanOpenPositionBearGate(t *testing.T) {
	m, _ := newTestManager(baseConfig())

	if ok, _ := m.CanOpenPosition(testSignal("SOL/USDT", analyzer.Bear, 61.5, "")); ok {
		t.Error("score 61.5 should be rejected in a bear market")
	}
	if ok, _ := m.CanOpenPosition(testSignal("SOL/USDT", analyzer.StrongBear, 61.5, "")); ok {
		t.Error("score 61.5 should be rejected in a strong bear market")
	}
	if ok, reason := m.CanOpenPosition(testSignal("SOL/USDT", analyzer.Bull, 61.5, "")); !ok {
		t.Errorf("score 61.5 rejected in a bull market: %s", reason)
	}
	if ok, reason := m.CanOpenPosition(testSignal("SOL/USDT", analyzer.Bear, 75, "")); !ok {
		t.Errorf("score 75 rejected in a bear market: %s", reason)
	}
}

// TestCalculatePositionSize pins the sizing formula: balance 10000,
// 2%% risk, 2%% implied stop.
func TestCalculatePositionSize(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxRiskPerTrade = 2
	m, _ := newTestManager(cfg)

	// Full score factor, neutral multiplier: 10000*0.02/0.02/100 = 100.
	size := m.CalculatePositionSize(testSignal("A/USDT", analyzer.Bull, 60, ""))
	if size != 100 {
		t.Errorf("expected size 100, got %v", size)
	}

	// Strong bull multiplies by 1.2.
	size = m.CalculatePositionSize(testSignal("B/USDT", analyzer.StrongBull, 90, ""))
	if size != 120 {
		t.Errorf("expected size 120, got %v", size)
	}

	// Half score halves the budget; strong bear halves it again.
	size = m.CalculatePositionSize(testSignal("C/USDT", analyzer.StrongBear, 30, ""))
	if size != 25 {
		t.Errorf("expected size 25, got %v", size)
	}

	if got := m.TotalRiskPct(); got != 6 {
		t.Errorf("expected 6%% booked, got %v", got)
	}
}

// TestUpdatePositionDebitsOwnSector verifies that closing a position
// removes exactly its own contribution, leaving other sectors alone.
func TestUpdatePositionDebitsOwnSector(t *testing.T) {
	m, _ := newTestManager(baseConfig())

	m.CalculatePositionSize(testSignal("UNI/USDT", analyzer.Bull, 60, "DeFi"))
	m.CalculatePositionSize(testSignal("DOGE/USDT", analyzer.Bull, 60, "Meme"))

	if got := m.TotalRiskPct(); got != 20 {
		t.Fatalf("expected 20%% booked, got %v", got)
	}

	m.UpdatePosition("UNI/USDT", "close", 0)

	if got := m.TotalRiskPct(); got != 10 {
		t.Errorf("expected 10%% after close, got %v", got)
	}
	alloc := m.SectorAllocations()
	if _, ok := alloc["DeFi"]; ok {
		t.Error("DeFi allocation should be fully released")
	}
	if alloc["Meme"] != 10 {
		t.Errorf("Meme allocation disturbed: %v", alloc["Meme"])
	}
}

func TestUpdatePositionPartialClose(t *testing.T) {
	m, _ := newTestManager(baseConfig())
	m.CalculatePositionSize(testSignal("UNI/USDT", analyzer.Bull, 60, "DeFi"))

	m.UpdatePosition("UNI/USDT", "partial_close", 0.3)
	if got := m.TotalRiskPct(); got != 7 {
		t.Errorf("expected 7%% after 30%% partial close, got %v", got)
	}
	if got := m.SectorAllocations()["DeFi"]; got != 7 {
		t.Errorf("expected DeFi 7%%, got %v", got)
	}

	// Closing the rest releases the position entirely.
	m.UpdatePosition("UNI/USDT", "close", 0)
	if got := m.TotalRiskPct(); got != 0 {
		t.Errorf("expected 0%% after close, got %v", got)
	}
	if len(m.HeldSymbols()) != 0 {
		t.Errorf("position still held: %v", m.HeldSymbols())
	}
}

// TestRebuildBlacklist covers both listing rules and the healthy case.
func TestRebuildBlacklist(t *testing.T) {
	m, mock := newTestManager(baseConfig())

	// 30%% drawdown, plenty of volume.
	mock.SetSeries("DD/USDT", "1d", []exchange.Candle{
		{High: 100, Low: 70, Close: 100, Volume: 1000},
		{High: 100, Low: 70, Close: 70, Volume: 1000},
	})
	// Flat price, 30-day dollar volume 3000.
	mock.SetSeries("LOWVOL/USDT", "1d", dailyBars(30, 100, 100, 100, 1))
	// Healthy: no drawdown, dollar volume 3,000,000.
	mock.SetSeries("GOOD/USDT", "1d", dailyBars(30, 100, 100, 100, 1000))

	listed := m.RebuildBlacklist([]string{"DD/USDT", "LOWVOL/USDT", "GOOD/USDT"})
	if listed != 2 {
		t.Fatalf("expected 2 listed, got %d", listed)
	}
	if !m.IsBlacklisted("DD/USDT") {
		t.Error("drawdown rule missed DD/USDT")
	}
	if !m.IsBlacklisted("LOWVOL/USDT") {
		t.Error("volume rule missed LOWVOL/USDT")
	}
	if m.IsBlacklisted("GOOD/USDT") {
		t.Error("healthy symbol wrongly listed")
	}
}

// TestRebuildBlacklistBatchCap verifies the walk stops after 5 batches
// of 20 symbols.
func TestRebuildBlacklistBatchCap(t *testing.T) {
	m, mock := newTestManager(baseConfig())
	mock.SetSeries("GOOD/USDT", "1d", dailyBars(30, 100, 100, 100, 1000))
	mock.SetSeries("BAD/USDT", "1d", dailyBars(30, 100, 100, 100, 1)) // low volume

	universe := make([]string, 120)
	for i := range universe {
		universe[i] = "GOOD/USDT"
	}
	universe[110] = "BAD/USDT" // beyond the 100-symbol cap

	if listed := m.RebuildBlacklist(universe); listed != 0 {
		t.Errorf("expected empty blacklist, got %d entries", listed)
	}
	if m.IsBlacklisted("BAD/USDT") {
		t.Error("symbol beyond the batch cap should not be checked")
	}
}

// TestRebuildBlacklistSwap verifies the rebuild replaces rather than
// accumulates.
func TestRebuildBlacklistSwap(t *testing.T) {
	m, mock := newTestManager(baseConfig())
	m.blacklist["STALE/USDT"] = struct{}{}
	mock.SetSeries("GOOD/USDT", "1d", dailyBars(30, 100, 100, 100, 1000))

	m.RebuildBlacklist([]string{"GOOD/USDT"})
	if m.IsBlacklisted("STALE/USDT") {
		t.Error("stale entry survived the swap")
	}
}
