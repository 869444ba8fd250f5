package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"momentum-trading-bot/internal/analyzer"
	"momentum-trading-bot/internal/circuit"
	"momentum-trading-bot/internal/exchange"
	"momentum-trading-bot/internal/executor"
	"momentum-trading-bot/internal/market"
	"momentum-trading-bot/internal/perf"
	"momentum-trading-bot/internal/risk"
	"momentum-trading-bot/internal/signal"
	"momentum-trading-bot/internal/state"
)

const engSymbol = "UNI/USDT"

// engineFixture wires an engine against the mock exchange. The market
// data layer caches tickers and memoizes indicators, which would mask
// mid-test price changes, so each monitor pass rebuilds the provider
// stack around the shared mock, executor, risk counters and position
// table.
type engineFixture struct {
	t     *testing.T
	mock  *exchange.MockClient
	exec  *executor.Executor
	risk  *risk.Manager
	perf  *perf.Tracker
	store *state.Store
	brk   *circuit.Breaker
	cfg   Config
	eng   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	mock := exchange.NewMockClient()
	mock.AddMarket(engSymbol)
	// An empty book makes entries and exits fill exactly at the
	// requested price.
	mock.Books[engSymbol] = &exchange.OrderBook{Symbol: engSymbol}
	mock.Tickers[engSymbol] = &exchange.Ticker{Symbol: engSymbol, Last: 100}

	journal, err := executor.NewJournal(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	exec := executor.New(mock, journal, nil, executor.Config{
		IcebergThreshold: 1e9, // keep every entry single-shot
		MinOrderAmount:   1,
		EntryFillTimeout: time.Second,
		ExitFillTimeout:  time.Second,
		PollInterval:     time.Millisecond,
	})
	tracker, err := perf.NewTracker(t.TempDir(), 1000, zerolog.Nop())
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}

	f := &engineFixture{
		t:     t,
		mock:  mock,
		exec:  exec,
		perf:  tracker,
		store: state.NewStore(nil, zerolog.Nop()),
		cfg:   Config{SkipBlacklist: true, SkipSectors: true},
	}
	f.rebuild()
	return f
}

// rebuild replaces the provider stack and the engine. The mock,
// executor, risk counters and open positions carry over.
func (f *engineFixture) rebuild() {
	f.t.Helper()

	provider := market.NewProvider(f.mock, market.Config{})
	if f.risk == nil {
		f.risk = risk.NewManager(provider, risk.Config{
			MaxRiskPerTrade:     2,
			MaxTotalRisk:        10,
			MaxSectorAllocation: 0.4,
			AccountBalance:      1000,
		})
	}

	eng, err := New(f.cfg, Deps{
		Provider: provider,
		Analyzer: analyzer.New(provider, nil, time.Minute),
		Signals:  signal.NewGenerator(provider, 1),
		Risk:     f.risk,
		Executor: f.exec,
		Perf:     f.perf,
		Breaker:  f.brk,
		Store:    f.store,
	})
	if err != nil {
		f.t.Fatalf("engine: %v", err)
	}
	if f.eng != nil {
		eng.positions = f.eng.positions
	}
	f.eng = eng
}

// pass runs one monitor pass with the ticker at price.
func (f *engineFixture) pass(price float64) {
	f.t.Helper()
	f.mock.Tickers[engSymbol] = &exchange.Ticker{Symbol: engSymbol, Last: price}
	f.rebuild()
	f.eng.MonitorPositions(context.Background())
}

// add installs a hand-built position and books it against the risk
// counters the way a real entry would.
func (f *engineFixture) add(pos *Position) {
	f.t.Helper()
	f.risk.BookPosition(pos.Symbol, pos.Sector)
	f.eng.positions[pos.Symbol] = pos
}

func (f *engineFixture) position() *Position {
	f.t.Helper()
	pos, ok := f.eng.positions[engSymbol]
	if !ok {
		f.t.Fatalf("no open position for %s", engSymbol)
	}
	return pos
}

// heldBack reports whether the risk manager still counts the symbol as
// held, via the signal filter that drops held symbols.
func (f *engineFixture) heldBack() bool {
	out := f.risk.FilterSignals([]signal.Signal{{Symbol: engSymbol, RSI: 50}})
	return len(out) == 0
}

func basePosition(targetPct float64) *Position {
	return &Position{
		Symbol:        engSymbol,
		Size:          10,
		AvgEntryPrice: 100,
		StopLoss:      98,
		TargetPct:     targetPct,
		Stage:         1,
		OpenedAt:      time.Now(),
		HighestPrice:  100,
	}
}

// seedScanData wires the full funnel: momentum +6%, volume ratio 2.0,
// RSI 55, ATR% 20 and a previous high at prevHigh. Entry price 106.
func (f *engineFixture) seedScanData(prevHigh float64) {
	f.mock.SetSeries(engSymbol, "5m", momentumRally())
	f.mock.SetSeries(engSymbol, "1d", dailySeries(prevHigh))
	f.mock.SetSeries(engSymbol, "1h", hourlyRSI55())
	f.mock.Tickers[engSymbol] = &exchange.Ticker{Symbol: engSymbol, Last: 106}
}

// momentumRally rises 6% across the default ten-minute scan window.
func momentumRally() []exchange.Candle {
	closes := []float64{100, 100, 100, 100, 106}
	out := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		out[i] = exchange.Candle{Timestamp: int64(i), Close: c}
	}
	return out
}

func dailySeries(high float64) []exchange.Candle {
	out := make([]exchange.Candle, 21)
	for i := range out {
		out[i] = exchange.Candle{High: high, Low: 90, Close: 100, Volume: 10}
	}
	out[20].Volume = 20
	return out
}

// hourlyRSI55 alternates +1.1/-0.9 closes for an RSI of exactly 55.
func hourlyRSI55() []exchange.Candle {
	closes := []float64{100}
	for i := 0; i < 7; i++ {
		closes = append(closes, closes[len(closes)-1]+1.1)
		closes = append(closes, closes[len(closes)-1]-0.9)
	}
	out := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		out[i] = exchange.Candle{Close: c}
	}
	return out
}

// hourlyOverbought rises every bar, pinning the RSI near 100.
func hourlyOverbought() []exchange.Candle {
	out := make([]exchange.Candle, 16)
	c := 100.0
	for i := range out {
		out[i] = exchange.Candle{Close: c}
		c += 2
	}
	return out
}

func TestScanMarketOpensStagedPosition(t *testing.T) {
	f := newEngineFixture(t)
	f.seedScanData(110)

	if err := f.eng.ScanMarket(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	pos := f.position()
	if pos.AvgEntryPrice != 106 {
		t.Errorf("expected entry at 106, got %v", pos.AvgEntryPrice)
	}
	if math.Abs(pos.StopLoss-106*0.98) > 1e-9 {
		t.Errorf("expected stop at 2%% under entry, got %v", pos.StopLoss)
	}
	// ATR 20% caps the profit target at 10%.
	if pos.TargetPct != 10 {
		t.Errorf("expected target 10%%, got %v", pos.TargetPct)
	}
	if pos.Stage != 1 {
		t.Errorf("expected stage 1, got %d", pos.Stage)
	}

	// Score 46.5 scales the 2% risk budget to a 775 USDT notional; the
	// first stage buys half of it.
	wantSize := 775.0 / 106 * 0.5
	if math.Abs(pos.Size-wantSize) > 1e-6 {
		t.Errorf("expected first stage size %v, got %v", wantSize, pos.Size)
	}

	co := pos.Conditional
	if co == nil {
		t.Fatal("expected a second stage conditional")
	}
	if co.TriggerPrice != 110 {
		t.Errorf("expected trigger at the previous high 110, got %v", co.TriggerPrice)
	}
	if math.Abs(co.LimitPrice-110*1.005) > 1e-9 {
		t.Errorf("expected limit just above the trigger, got %v", co.LimitPrice)
	}
	if co.Soft {
		t.Error("expected a native conditional on a trigger-capable exchange")
	}
	if math.Abs(co.Size-wantSize) > 1e-6 {
		t.Errorf("expected second stage size %v, got %v", wantSize, co.Size)
	}
	if co.Condition.RSIBelow != 70 {
		t.Errorf("expected RSI cap 70, got %v", co.Condition.RSIBelow)
	}

	if pos.StopOrder == nil || pos.StopOrder.Soft {
		t.Error("expected a native stop order")
	}

	if got := len(f.eng.RecentSignals()); got != 1 {
		t.Errorf("expected 1 recent signal, got %d", got)
	}
	if f.eng.LastScanTime().IsZero() {
		t.Error("expected the scan time to be recorded")
	}

	sp, err := f.store.Load(context.Background(), engSymbol)
	if err != nil {
		t.Fatalf("state load: %v", err)
	}
	if sp == nil || sp.Stage != 1 {
		t.Errorf("expected the position persisted at stage 1, got %+v", sp)
	}
}

func TestScanRespectsCircuitBreaker(t *testing.T) {
	f := newEngineFixture(t)
	f.brk = circuit.New(circuit.Config{
		Enabled:              true,
		MaxConsecutiveLosses: 1,
		MaxDailyLossPct:      50,
		CooldownMinutes:      60,
	}, nil)
	f.brk.RecordTrade(-2)
	f.seedScanData(110)
	f.rebuild()

	if err := f.eng.ScanMarket(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got := f.eng.PositionCount(); got != 0 {
		t.Errorf("expected no entries with the breaker open, got %d", got)
	}
	if f.mock.Calls["CreateLimitBuyOrder"] != 0 {
		t.Error("expected no orders with the breaker open")
	}
}

func TestEntryFailureReleasesRisk(t *testing.T) {
	f := newEngineFixture(t)
	f.mock.OrderErr = errors.New("rejected")

	sig := signal.Signal{
		Symbol:       engSymbol,
		EntryPrice:   100,
		ProfitTarget: 0.06,
		Score:        61.5,
		MarketState:  analyzer.Neutral,
	}
	if err := f.eng.enterPosition(context.Background(), sig); err == nil {
		t.Fatal("expected the entry to fail")
	}
	if got := f.eng.PositionCount(); got != 0 {
		t.Errorf("expected no position after a failed entry, got %d", got)
	}
	if f.heldBack() {
		t.Error("expected the risk booking to be released after the failed entry")
	}
}

func TestMonitorTrailsStop(t *testing.T) {
	f := newEngineFixture(t)
	pos := basePosition(6)
	pos.StopOrder = &executor.StopOrder{Symbol: engSymbol, StopPrice: 98, Size: 10, Soft: true}
	f.add(pos)

	// +4% arms the trail; the first step lands on the entry price.
	f.pass(104)
	pos = f.position()
	if pos.StopLoss != 100 {
		t.Errorf("expected stop raised to entry 100, got %v", pos.StopLoss)
	}

	// Each further tick above +3% ratchets the stop 1% higher.
	f.pass(104)
	pos = f.position()
	if math.Abs(pos.StopLoss-101) > 1e-9 {
		t.Errorf("expected stop ratcheted to 101, got %v", pos.StopLoss)
	}
	if pos.StopOrder.StopPrice != pos.StopLoss {
		t.Errorf("expected the soft stop marker to follow, got %v", pos.StopOrder.StopPrice)
	}
	if pos.HighestPrice != 104 {
		t.Errorf("expected highest price 104, got %v", pos.HighestPrice)
	}
	if f.eng.PositionCount() != 1 {
		t.Error("trailing must never close the position")
	}
}

func TestSoftStopClosesPosition(t *testing.T) {
	f := newEngineFixture(t)
	f.add(basePosition(6)) // no stop order: the monitor enforces the level

	f.pass(97)

	if got := f.eng.PositionCount(); got != 0 {
		t.Fatalf("expected the position closed, got %d open", got)
	}
	trades := f.perf.RecentTrades(1)
	if len(trades) != 1 || trades[0].Action != "stop_loss" {
		t.Fatalf("expected a stop_loss trade, got %+v", trades)
	}
	if math.Abs(trades[0].ProfitPct-(-3)) > 1e-6 {
		t.Errorf("expected -3%% recorded, got %v", trades[0].ProfitPct)
	}
	if f.heldBack() {
		t.Error("expected the exposure released on close")
	}
}

func TestTakeProfitLadder(t *testing.T) {
	f := newEngineFixture(t)
	f.add(basePosition(20))

	// +16% is 80% of the 20% target: sell 30% of the position.
	f.pass(116)
	pos := f.position()
	if !pos.TP1Done || pos.TP2Done {
		t.Fatalf("expected only TP1 done, got tp1=%v tp2=%v", pos.TP1Done, pos.TP2Done)
	}
	if math.Abs(pos.Size-7) > 1e-6 {
		t.Errorf("expected 7 left after TP1, got %v", pos.Size)
	}

	// +20% hits the target: sell 40% of what remains.
	f.pass(120)
	pos = f.position()
	if !pos.TP2Done {
		t.Fatal("expected TP2 done")
	}
	if math.Abs(pos.Size-4.2) > 1e-6 {
		t.Errorf("expected 4.2 left after TP2, got %v", pos.Size)
	}

	// +24% is 120% of the target: sell the final rung and retire the
	// position.
	f.pass(124)
	if got := f.eng.PositionCount(); got != 0 {
		t.Fatalf("expected the ladder to retire the position, got %d open", got)
	}

	trades := f.perf.RecentTrades(0)
	if len(trades) != 3 {
		t.Fatalf("expected 3 ladder exits, got %d", len(trades))
	}
	for _, tr := range trades {
		if tr.Action != "take_profit" {
			t.Errorf("expected take_profit, got %q", tr.Action)
		}
	}
	if f.heldBack() {
		t.Error("expected the exposure released after the final rung")
	}
}

func TestTimeStop(t *testing.T) {
	// Stale and flat: give up.
	f := newEngineFixture(t)
	pos := basePosition(6)
	pos.OpenedAt = time.Now().Add(-5 * time.Hour)
	f.add(pos)

	f.pass(100.5)
	if got := f.eng.PositionCount(); got != 0 {
		t.Fatalf("expected the time stop to close the position, got %d open", got)
	}
	trades := f.perf.RecentTrades(1)
	if len(trades) != 1 || trades[0].Action != "exit" {
		t.Fatalf("expected an exit trade, got %+v", trades)
	}

	// Stale but in profit: hold on.
	f2 := newEngineFixture(t)
	pos2 := basePosition(6)
	pos2.OpenedAt = time.Now().Add(-5 * time.Hour)
	f2.add(pos2)

	f2.pass(103)
	if got := f2.eng.PositionCount(); got != 1 {
		t.Errorf("expected a profitable stale position to survive, got %d open", got)
	}
}

func TestSecondStageSoftTrigger(t *testing.T) {
	f := newEngineFixture(t)
	f.mock.SetSeries(engSymbol, "1h", hourlyRSI55())

	pos := basePosition(6)
	pos.Size = 5
	pos.Conditional = &executor.ConditionalOrder{
		Symbol:       engSymbol,
		TriggerPrice: 110,
		LimitPrice:   110 * 1.005,
		Size:         5,
		Stage:        "second_stage",
		Condition:    executor.Condition{Type: executor.PriceAbove, Price: 110, RSIBelow: 70},
		Soft:         true,
		PlacedAt:     time.Now(),
	}
	f.add(pos)

	f.pass(111)

	pos = f.position()
	if pos.Stage != 2 {
		t.Fatalf("expected stage 2, got %d", pos.Stage)
	}
	if math.Abs(pos.Size-10) > 1e-6 {
		t.Errorf("expected size 10 after the scale-in, got %v", pos.Size)
	}
	if math.Abs(pos.AvgEntryPrice-105.5) > 1e-6 {
		t.Errorf("expected weighted entry 105.5, got %v", pos.AvgEntryPrice)
	}
	if math.Abs(pos.StopLoss-105.5*0.98) > 1e-6 {
		t.Errorf("expected stop raised to protect the new basis, got %v", pos.StopLoss)
	}
	if pos.Conditional != nil {
		t.Error("expected the conditional consumed")
	}
	if pos.HighestPrice != 111 {
		t.Errorf("expected highest price 111, got %v", pos.HighestPrice)
	}
	// The tick that moves the basis never also judges exits.
	if got := f.perf.TradeCount(); got != 0 {
		t.Errorf("expected no exits on the scale-in tick, got %d trades", got)
	}
}

func TestSecondStageRSIGate(t *testing.T) {
	f := newEngineFixture(t)
	f.mock.SetSeries(engSymbol, "1h", hourlyOverbought())

	pos := basePosition(50)
	pos.Size = 5
	pos.Conditional = &executor.ConditionalOrder{
		Symbol:       engSymbol,
		TriggerPrice: 110,
		LimitPrice:   110 * 1.005,
		Size:         5,
		Stage:        "second_stage",
		Condition:    executor.Condition{Type: executor.PriceAbove, Price: 110, RSIBelow: 70},
		Soft:         true,
		PlacedAt:     time.Now(),
	}
	f.add(pos)

	f.pass(111)

	pos = f.position()
	if pos.Stage != 1 {
		t.Errorf("expected the overbought gate to hold stage 1, got %d", pos.Stage)
	}
	if pos.Conditional == nil {
		t.Error("expected the conditional kept for a later tick")
	}
	if f.mock.Calls["CreateLimitBuyOrder"] != 0 {
		t.Error("expected no buy while the RSI gate blocks")
	}
}

func TestSecondStageExpiry(t *testing.T) {
	f := newEngineFixture(t)
	co, err := f.exec.SetConditionalOrder(context.Background(), engSymbol, 5, 110*1.005,
		"second_stage", executor.Condition{Type: executor.PriceAbove, Price: 110, RSIBelow: 70})
	if err != nil {
		t.Fatalf("conditional: %v", err)
	}
	co.PlacedAt = time.Now().Add(-5 * time.Hour)

	pos := basePosition(6)
	pos.Size = 5
	pos.Conditional = co
	f.add(pos)

	f.pass(100)

	pos = f.position()
	if pos.Conditional != nil {
		t.Error("expected the expired conditional dropped")
	}
	if len(f.mock.Canceled) != 1 || f.mock.Canceled[0] != co.OrderID {
		t.Errorf("expected the resting trigger order withdrawn, canceled=%v", f.mock.Canceled)
	}
	if got := f.eng.PositionCount(); got != 1 {
		t.Errorf("expected the position itself to survive, got %d open", got)
	}
}

func TestNativeConditionalFill(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	co, err := f.exec.SetConditionalOrder(ctx, engSymbol, 5, 110*1.005,
		"second_stage", executor.Condition{Type: executor.PriceAbove, Price: 110, RSIBelow: 70})
	if err != nil {
		t.Fatalf("conditional: %v", err)
	}
	stop, err := f.exec.SetStopLoss(ctx, engSymbol, 98, 5)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	pos := basePosition(6)
	pos.Size = 5
	pos.Conditional = co
	pos.StopOrder = stop
	f.add(pos)

	// The exchange fires the trigger on its own; the monitor folds the
	// fill in even though the ticker never crossed the trigger.
	if err := f.mock.CloseOrder(co.OrderID, 110.55); err != nil {
		t.Fatalf("close order: %v", err)
	}
	f.pass(109)

	pos = f.position()
	if pos.Stage != 2 {
		t.Fatalf("expected stage 2, got %d", pos.Stage)
	}
	if math.Abs(pos.Size-10) > 1e-6 {
		t.Errorf("expected size 10, got %v", pos.Size)
	}
	if math.Abs(pos.AvgEntryPrice-105.275) > 1e-6 {
		t.Errorf("expected weighted entry 105.275, got %v", pos.AvgEntryPrice)
	}
	if math.Abs(pos.StopLoss-105.275*0.98) > 1e-6 {
		t.Errorf("expected stop at 2%% under the new basis, got %v", pos.StopLoss)
	}
	if pos.HighestPrice != 110.55 {
		t.Errorf("expected the fill price as the high-water mark, got %v", pos.HighestPrice)
	}

	// The native stop was replaced for the doubled size.
	if pos.StopOrder == nil || pos.StopOrder.OrderID == stop.OrderID {
		t.Fatal("expected a replacement stop order")
	}
	if math.Abs(pos.StopOrder.StopPrice-105.275*0.98) > 1e-6 {
		t.Errorf("expected the replacement at the new stop, got %v", pos.StopOrder.StopPrice)
	}
	if math.Abs(pos.StopOrder.Size-10) > 1e-6 {
		t.Errorf("expected the replacement sized to 10, got %v", pos.StopOrder.Size)
	}
	replaced := false
	for _, id := range f.mock.Canceled {
		if id == stop.OrderID {
			replaced = true
		}
	}
	if !replaced {
		t.Error("expected the old stop canceled on replacement")
	}
}

func TestNativeStopFill(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	stop, err := f.exec.SetStopLoss(ctx, engSymbol, 98, 10)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	co, err := f.exec.SetConditionalOrder(ctx, engSymbol, 10, 110*1.005,
		"second_stage", executor.Condition{Type: executor.PriceAbove, Price: 110, RSIBelow: 70})
	if err != nil {
		t.Fatalf("conditional: %v", err)
	}

	pos := basePosition(6)
	pos.StopOrder = stop
	pos.Conditional = co
	f.add(pos)

	// The exchange sells through the stop before the monitor sees the
	// price move.
	if err := f.mock.CloseOrder(stop.OrderID, 97.9); err != nil {
		t.Fatalf("close order: %v", err)
	}
	f.pass(99)

	if got := f.eng.PositionCount(); got != 0 {
		t.Fatalf("expected the position settled, got %d open", got)
	}
	trades := f.perf.RecentTrades(1)
	if len(trades) != 1 || trades[0].Action != "stop_loss" {
		t.Fatalf("expected a stop_loss trade, got %+v", trades)
	}
	if trades[0].ExitPrice != 97.9 {
		t.Errorf("expected the exchange fill price 97.9, got %v", trades[0].ExitPrice)
	}
	coCanceled := false
	for _, id := range f.mock.Canceled {
		if id == co.OrderID {
			coCanceled = true
		}
	}
	if !coCanceled {
		t.Error("expected the armed second stage withdrawn with the position")
	}
	if f.heldBack() {
		t.Error("expected the exposure released")
	}
}

func TestRestorePositions(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	err := f.store.Save(ctx, &state.Position{
		Symbol:        engSymbol,
		Size:          5,
		AvgEntryPrice: 100,
		StopLoss:      98,
		TargetPct:     6,
		Stage:         1,
		OpenedAt:      time.Now().Add(-time.Hour),
		StopOrderID:   "42",
		Conditional: &state.ConditionalOrder{
			OrderID:      "43",
			TriggerPrice: 110,
			LimitPrice:   110 * 1.005,
			Size:         5,
			Stage:        "second_stage",
			RSIBelow:     70,
			PlacedAt:     time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	f.eng.restorePositions(ctx)

	pos := f.position()
	if pos.Size != 5 || pos.AvgEntryPrice != 100 || pos.StopLoss != 98 {
		t.Errorf("restored position mismatch: %+v", pos)
	}
	if pos.HighestPrice != 100 {
		t.Errorf("expected the high-water mark floored at entry, got %v", pos.HighestPrice)
	}
	if pos.StopOrder == nil || pos.StopOrder.OrderID != "42" {
		t.Errorf("expected the stop order rebuilt, got %+v", pos.StopOrder)
	}
	co := pos.Conditional
	if co == nil || co.OrderID != "43" {
		t.Fatalf("expected the conditional rebuilt, got %+v", co)
	}
	if co.Condition.Price != 110 || co.Condition.RSIBelow != 70 {
		t.Errorf("expected the trigger condition rebuilt, got %+v", co.Condition)
	}
	if !f.heldBack() {
		t.Error("expected the restored symbol booked against the risk counters")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	f.cfg = Config{
		ScanInterval:    time.Hour,
		MonitorInterval: time.Hour,
		SkipBlacklist:   true,
		SkipSectors:     true,
	}
	f.rebuild()

	if err := f.eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !f.eng.Running() {
		t.Error("expected the engine running")
	}
	if err := f.eng.Start(context.Background()); err == nil {
		t.Error("expected a second start to fail")
	}

	f.eng.Stop()
	if f.eng.Running() {
		t.Error("expected the engine stopped")
	}
}

func TestTaskStats(t *testing.T) {
	f := newEngineFixture(t)
	f.eng.trackTask("market_scan", 10*time.Millisecond)
	f.eng.trackTask("market_scan", 30*time.Millisecond)

	stats := f.eng.TaskStats()
	got, ok := stats["market_scan"]
	if !ok {
		t.Fatal("expected market_scan stats")
	}
	if got.Count != 2 {
		t.Errorf("expected 2 runs, got %d", got.Count)
	}
	if got.Max != 30*time.Millisecond {
		t.Errorf("expected max 30ms, got %v", got.Max)
	}
	if got.Average != 20*time.Millisecond {
		t.Errorf("expected average 20ms, got %v", got.Average)
	}
}

func TestPositionsReturnsSortedCopies(t *testing.T) {
	f := newEngineFixture(t)
	f.mock.AddMarket("APT/USDT")

	f.add(basePosition(6))
	apt := basePosition(6)
	apt.Symbol = "APT/USDT"
	f.add(apt)

	out := f.eng.Positions()
	if len(out) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(out))
	}
	if out[0].Symbol != "APT/USDT" || out[1].Symbol != engSymbol {
		t.Errorf("expected symbol order, got %q then %q", out[0].Symbol, out[1].Symbol)
	}

	out[0].Size = 0
	if f.eng.positions["APT/USDT"].Size != 10 {
		t.Error("expected Positions to return copies")
	}
}
