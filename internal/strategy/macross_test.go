package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"momentum-trading-bot/internal/exchange"
	"momentum-trading-bot/internal/executor"
)

const stratSymbol = "ETH/USDT"

// Window sizes 2/3 keep the hand-built series short while still
// exercising both sides of the crossover detector.
func baseConfig() Config {
	return Config{
		Symbol:          stratSymbol,
		Timeframe:       "1h",
		ShortWindow:     2,
		LongWindow:      3,
		PositionSize:    0.1,
		MaxPositions:    3,
		MaxTradesPerDay: 3,
		StopLossPct:     3,
		TakeProfitPct:   5,
		CheckInterval:   time.Hour,
		AccountBalance:  1000,
	}
}

func newMACrossFixture(t *testing.T, cfg Config) (*MACross, *exchange.MockClient, *executor.Executor) {
	t.Helper()

	mock := exchange.NewMockClient()
	mock.AddMarket(cfg.Symbol)
	// An empty book makes entries and exits fill exactly at the
	// requested price.
	mock.Books[cfg.Symbol] = &exchange.OrderBook{Symbol: cfg.Symbol}

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

	strat, err := NewMACross(cfg, mock, exec)
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	return strat, mock, exec
}

func hourlySeries(closes ...float64) []exchange.Candle {
	out := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		out[i] = exchange.Candle{
			Timestamp: time.Now().Add(-time.Duration(len(closes)-i) * time.Hour).UnixMilli(),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    10,
		}
	}
	return out
}

// Short SMA crosses above the long one on the last bar; price 12.
func goldenSeries() []exchange.Candle {
	return hourlySeries(10, 10, 10, 9, 12)
}

func TestGoldenCrossOpensPosition(t *testing.T) {
	strat, mock, _ := newMACrossFixture(t, baseConfig())
	mock.SetSeries(stratSymbol, "1h", goldenSeries())

	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	active := strat.ActivePositions()
	if len(active) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(active))
	}
	pos := active[0]
	if pos.Stage != "ma_cross" {
		t.Errorf("expected stage ma_cross, got %q", pos.Stage)
	}
	if pos.AvgPrice != 12 {
		t.Errorf("expected fill at 12, got %v", pos.AvgPrice)
	}
	wantSize := 1000 * 0.1 / 12.0
	if math.Abs(pos.Size-wantSize) > 1e-6 {
		t.Errorf("expected size %.8f, got %.8f", wantSize, pos.Size)
	}
	if mock.Calls["CreateLimitBuyOrder"] != 1 {
		t.Errorf("expected one buy order, got %d", mock.Calls["CreateLimitBuyOrder"])
	}
}

func TestNoEntryWithoutCross(t *testing.T) {
	strat, mock, _ := newMACrossFixture(t, baseConfig())
	// Short SMA stays above the long one the whole way up.
	mock.SetSeries(stratSymbol, "1h", hourlySeries(11, 11.5, 12, 12.5, 13))

	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := len(strat.ActivePositions()); n != 0 {
		t.Fatalf("expected no positions, got %d", n)
	}
	if mock.Calls["CreateLimitBuyOrder"] != 0 {
		t.Errorf("expected no buy orders, got %d", mock.Calls["CreateLimitBuyOrder"])
	}
}

func TestShortSeriesIsSkipped(t *testing.T) {
	strat, mock, _ := newMACrossFixture(t, baseConfig())
	mock.SetSeries(stratSymbol, "1h", hourlySeries(10, 10, 10))

	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if mock.Calls["CreateLimitBuyOrder"] != 0 {
		t.Errorf("expected no orders on a short series, got %d", mock.Calls["CreateLimitBuyOrder"])
	}
}

func TestPositionCapBlocksEntry(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPositions = 1
	strat, mock, _ := newMACrossFixture(t, cfg)
	// The static series shows a golden cross on every pass.
	mock.SetSeries(stratSymbol, "1h", goldenSeries())

	for i := 0; i < 2; i++ {
		if err := strat.RunOnce(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if n := len(strat.ActivePositions()); n != 1 {
		t.Fatalf("expected 1 position, got %d", n)
	}
	if mock.Calls["CreateLimitBuyOrder"] != 1 {
		t.Errorf("expected the cap to hold entries at 1, got %d", mock.Calls["CreateLimitBuyOrder"])
	}
}

func TestDailyTradeCapBlocksEntry(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPositions = 5
	cfg.MaxTradesPerDay = 1
	strat, mock, _ := newMACrossFixture(t, cfg)
	mock.SetSeries(stratSymbol, "1h", goldenSeries())

	for i := 0; i < 2; i++ {
		if err := strat.RunOnce(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if mock.Calls["CreateLimitBuyOrder"] != 1 {
		t.Errorf("expected the daily cap to hold entries at 1, got %d", mock.Calls["CreateLimitBuyOrder"])
	}
}

func TestVolumeGateBlocksThinMarkets(t *testing.T) {
	cfg := baseConfig()
	cfg.MinVolumeUSD = 1000000
	strat, mock, _ := newMACrossFixture(t, cfg)
	mock.SetSeries(stratSymbol, "1h", goldenSeries())
	mock.Tickers[stratSymbol] = &exchange.Ticker{Symbol: stratSymbol, Last: 12, QuoteVolume: 500000}

	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("thin pass: %v", err)
	}
	if mock.Calls["CreateLimitBuyOrder"] != 0 {
		t.Fatalf("expected thin volume to block the entry")
	}

	mock.Tickers[stratSymbol] = &exchange.Ticker{Symbol: stratSymbol, Last: 12, QuoteVolume: 2000000}
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("liquid pass: %v", err)
	}
	if mock.Calls["CreateLimitBuyOrder"] != 1 {
		t.Errorf("expected an entry once volume recovered, got %d", mock.Calls["CreateLimitBuyOrder"])
	}
}

func TestTakeProfitExit(t *testing.T) {
	strat, mock, exec := newMACrossFixture(t, baseConfig())
	mock.SetSeries(stratSymbol, "1h", goldenSeries())
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("entry pass: %v", err)
	}
	entryID := strat.ActivePositions()[0].OrderID

	// No cross, price 13: +8.3% on a 12 entry clears the 5% target.
	mock.SetSeries(stratSymbol, "1h", hourlySeries(11, 11.5, 12, 12.5, 13))
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("exit pass: %v", err)
	}

	if n := len(strat.ActivePositions()); n != 0 {
		t.Fatalf("expected the position closed, got %d open", n)
	}
	hist, err := exec.TradingHistory(executor.Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.ExitOrders) != 1 {
		t.Fatalf("expected 1 exit, got %d", len(hist.ExitOrders))
	}
	exit := hist.ExitOrders[0]
	if exit.Reason != "take_profit" {
		t.Errorf("expected take_profit, got %q", exit.Reason)
	}
	if exit.EntryOrderID != entryID {
		t.Errorf("exit should reference entry %s, got %s", entryID, exit.EntryOrderID)
	}
	if exit.AvgPrice != 13 {
		t.Errorf("expected exit at 13, got %v", exit.AvgPrice)
	}
}

func TestFixedStopLossExit(t *testing.T) {
	strat, mock, exec := newMACrossFixture(t, baseConfig())
	mock.SetSeries(stratSymbol, "1h", goldenSeries())
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("entry pass: %v", err)
	}

	// No cross, price 11.3: -5.8% breaches the 3% stop.
	mock.SetSeries(stratSymbol, "1h", hourlySeries(11.8, 11.6, 11.5, 11.4, 11.3))
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("exit pass: %v", err)
	}

	if n := len(strat.ActivePositions()); n != 0 {
		t.Fatalf("expected the position closed, got %d open", n)
	}
	hist, err := exec.TradingHistory(executor.Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.ExitOrders) != 1 || hist.ExitOrders[0].Reason != "stop_loss" {
		t.Fatalf("expected a single stop_loss exit, got %+v", hist.ExitOrders)
	}
}

func TestSellSignalExit(t *testing.T) {
	strat, mock, exec := newMACrossFixture(t, baseConfig())
	mock.SetSeries(stratSymbol, "1h", goldenSeries())
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("entry pass: %v", err)
	}

	// Death cross at 11.8: -1.7% is inside the stop, so the reversal
	// signal is what closes the position.
	mock.SetSeries(stratSymbol, "1h", hourlySeries(12, 12, 12, 12.1, 11.8))
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("exit pass: %v", err)
	}

	hist, err := exec.TradingHistory(executor.Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.ExitOrders) != 1 || hist.ExitOrders[0].Reason != "sell_signal" {
		t.Fatalf("expected a single sell_signal exit, got %+v", hist.ExitOrders)
	}
	if n := len(strat.ActivePositions()); n != 0 {
		t.Fatalf("expected the position closed, got %d open", n)
	}
}

func TestTrailingStopLocksInProfit(t *testing.T) {
	cfg := baseConfig()
	cfg.TrailingStop = true
	cfg.TrailingStopDistance = 2
	cfg.TakeProfitPct = 50 // keep the profit target out of the way
	strat, mock, exec := newMACrossFixture(t, cfg)

	mock.SetSeries(stratSymbol, "1h", goldenSeries())
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("entry pass: %v", err)
	}
	entryID := strat.ActivePositions()[0].OrderID

	// The initial stop sits one fixed stop below the 12 entry.
	stop, ok := strat.trailing.StopPrice(entryID)
	if !ok {
		t.Fatal("expected a trailing stop for the new position")
	}
	if want := 12 * (1 - 3.0/100); math.Abs(stop-want) > 1e-9 {
		t.Errorf("expected initial stop %.4f, got %.4f", want, stop)
	}

	// Price climbs to 13 with no cross; the stop trails to 13*0.98.
	mock.SetSeries(stratSymbol, "1h", hourlySeries(11, 11.5, 12, 12.5, 13))
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("raise pass: %v", err)
	}
	stop, ok = strat.trailing.StopPrice(entryID)
	if !ok {
		t.Fatal("expected the position still tracked")
	}
	if want := 13 * (1 - 2.0/100); math.Abs(stop-want) > 1e-9 {
		t.Errorf("expected raised stop %.4f, got %.4f", want, stop)
	}

	// Price falls back through the raised stop; the exit still books
	// a profit over the 12 entry.
	mock.SetSeries(stratSymbol, "1h", hourlySeries(13.2, 12.9, 12.7, 12.6, 12.5))
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("trigger pass: %v", err)
	}

	if n := len(strat.ActivePositions()); n != 0 {
		t.Fatalf("expected the position closed, got %d open", n)
	}
	if _, ok := strat.trailing.StopPrice(entryID); ok {
		t.Error("expected the trailing stop released after the exit")
	}
	hist, err := exec.TradingHistory(executor.Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.ExitOrders) != 1 || hist.ExitOrders[0].Reason != "trailing_stop" {
		t.Fatalf("expected a single trailing_stop exit, got %+v", hist.ExitOrders)
	}
	if hist.ExitOrders[0].ProfitPercentage <= 0 {
		t.Errorf("expected a profitable trailing exit, got %.2f%%", hist.ExitOrders[0].ProfitPercentage)
	}
}

func TestRestartRestoresTrailingStops(t *testing.T) {
	cfg := baseConfig()
	cfg.TrailingStop = true
	cfg.TrailingStopDistance = 2
	strat, mock, exec := newMACrossFixture(t, cfg)

	mock.SetSeries(stratSymbol, "1h", goldenSeries())
	if err := strat.RunOnce(context.Background()); err != nil {
		t.Fatalf("entry pass: %v", err)
	}
	entryID := strat.ActivePositions()[0].OrderID

	// A fresh strategy over the same journals simulates a restart.
	restarted, err := NewMACross(cfg, mock, exec)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := restarted.reloadHistory(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if n := len(restarted.ActivePositions()); n != 1 {
		t.Fatalf("expected the open position recovered, got %d", n)
	}
	stop, ok := restarted.trailing.StopPrice(entryID)
	if !ok {
		t.Fatal("expected a trailing stop for the recovered position")
	}
	if want := 12 * (1 - 3.0/100); math.Abs(stop-want) > 1e-9 {
		t.Errorf("expected stop %.4f, got %.4f", want, stop)
	}
}

func TestConfigValidationAndDefaults(t *testing.T) {
	mock := exchange.NewMockClient()
	journal, err := executor.NewJournal(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	exec := executor.New(mock, journal, nil, executor.Config{})

	if _, err := NewMACross(Config{}, mock, exec); err == nil {
		t.Error("expected an error for a missing symbol")
	}
	if _, err := NewMACross(Config{Symbol: stratSymbol, ShortWindow: 20, LongWindow: 10}, mock, exec); err == nil {
		t.Error("expected an error for inverted windows")
	}

	strat, err := NewMACross(Config{Symbol: stratSymbol}, mock, exec)
	if err != nil {
		t.Fatalf("minimal config: %v", err)
	}
	if strat.cfg.ShortWindow != 5 || strat.cfg.LongWindow != 20 {
		t.Errorf("expected default windows 5/20, got %d/%d", strat.cfg.ShortWindow, strat.cfg.LongWindow)
	}
	if strat.cfg.Timeframe != "1h" {
		t.Errorf("expected default timeframe 1h, got %q", strat.cfg.Timeframe)
	}
	if strat.cfg.CheckInterval != time.Minute {
		t.Errorf("expected default interval 1m, got %v", strat.cfg.CheckInterval)
	}
	if strat.cfg.AccountBalance != 1000 {
		t.Errorf("expected default balance 1000, got %v", strat.cfg.AccountBalance)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := baseConfig()
	cfg.CheckInterval = time.Hour
	strat, _, _ := newMACrossFixture(t, cfg)

	if err := strat.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strat.Running() {
		t.Fatal("expected the strategy running")
	}
	if err := strat.Start(); err == nil {
		t.Fatal("expected the second start to fail")
	}

	strat.Stop()
	if strat.Running() {
		t.Fatal("expected the strategy stopped")
	}
}
