package perf

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T, balance float64) (*Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	tr, err := NewTracker(dir, balance, zerolog.Nop())
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	return tr, dir
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// TestRecordTradeEntryVsExit: entries are stored without profit, exits
// are scored.
func TestRecordTradeEntryVsExit(t *testing.T) {
	tr, _ := newTestTracker(t, 1000)

	entry := tr.RecordTrade("ABC/USDT", "entry", 100, 0, 2, 0.1)
	if entry.ProfitAmount != 0 || entry.ProfitPct != 0 {
		t.Errorf("entry scored: %+v", entry)
	}
	if m := tr.CalculateMetrics(); m.TotalTrades != 0 {
		t.Errorf("entry counted as trade: %+v", m)
	}

	exit := tr.RecordTrade("ABC/USDT", "take_profit", 100, 105, 2, 0.2)
	if !near(exit.ProfitPct, 5) || !near(exit.ProfitAmount, 10) {
		t.Errorf("exit profit wrong: %+v", exit)
	}

	m := tr.CalculateMetrics()
	if m.TotalTrades != 1 || m.WinningTrades != 1 {
		t.Errorf("counters: %+v", m)
	}
	if !near(m.TotalFees, 0.2) {
		t.Errorf("only exit fees should accumulate, got %v", m.TotalFees)
	}
}

// TestBreakEvenCountsAsLoss: zero profit lands in the losing bucket.
func TestBreakEvenCountsAsLoss(t *testing.T) {
	tr, _ := newTestTracker(t, 1000)
	tr.RecordTrade("ABC/USDT", "exit", 100, 100, 1, 0)

	m := tr.CalculateMetrics()
	if m.WinningTrades != 0 || m.LosingTrades != 1 {
		t.Errorf("break-even split: %+v", m)
	}
}

// TestCalculateMetrics pins the derived figures on a small fixture:
// wins +10 and +20, loss -15, fees 3.
func TestCalculateMetrics(t *testing.T) {
	tr, _ := newTestTracker(t, 1000)
	tr.RecordTrade("A/USDT", "take_profit", 100, 110, 1, 1) // +10
	tr.RecordTrade("B/USDT", "take_profit", 100, 120, 1, 1) // +20
	tr.RecordTrade("C/USDT", "stop_loss", 100, 85, 1, 1)    // -15

	m := tr.CalculateMetrics()
	if m.TotalTrades != 3 || m.WinningTrades != 2 || m.LosingTrades != 1 {
		t.Fatalf("counters: %+v", m)
	}
	if !near(m.WinRate, 200.0/3) {
		t.Errorf("win rate %v", m.WinRate)
	}
	if !near(m.AvgWin, 15) || !near(m.AvgLoss, 15) {
		t.Errorf("averages %v/%v", m.AvgWin, m.AvgLoss)
	}
	if !near(m.ProfitLossRatio, 1) {
		t.Errorf("pl ratio %v", m.ProfitLossRatio)
	}
	// (2/3)*15 - (1/3)*15 = 5
	if !near(m.Expectancy, 5) {
		t.Errorf("expectancy %v", m.Expectancy)
	}
	if !near(m.NetProfit, 30-15-3) {
		t.Errorf("net profit %v", m.NetProfit)
	}
}

// TestMaxDrawdown walks the equity curve: +10, -50, +20 from 1000 gives
// a 50 dollar trough below the 1010 peak.
func TestMaxDrawdown(t *testing.T) {
	tr, _ := newTestTracker(t, 1000)
	tr.RecordTrade("A/USDT", "exit", 100, 110, 1, 0) // +10 -> 1010
	tr.RecordTrade("B/USDT", "exit", 100, 50, 1, 0)  // -50 -> 960
	tr.RecordTrade("C/USDT", "exit", 100, 120, 1, 0) // +20 -> 980

	m := tr.CalculateMetrics()
	if !near(m.MaxDrawdown, 50) {
		t.Errorf("max drawdown %v", m.MaxDrawdown)
	}
	if !near(m.MaxDrawdownPct, 5) {
		t.Errorf("max drawdown pct %v", m.MaxDrawdownPct)
	}
}

// TestPersistenceRoundTrip: a fresh tracker on the same directory
// restores both the trades and the derived counters.
func TestPersistenceRoundTrip(t *testing.T) {
	tr, dir := newTestTracker(t, 1000)
	tr.RecordTrade("A/USDT", "entry", 100, 0, 1, 0)
	tr.RecordTrade("A/USDT", "take_profit", 100, 110, 1, 0.5)

	if _, err := os.Stat(filepath.Join(dir, "trades.json")); err != nil {
		t.Fatalf("trades.json missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "performance.json")); err != nil {
		t.Fatalf("performance.json missing: %v", err)
	}

	reloaded, err := NewTracker(dir, 1000, zerolog.Nop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.TradeCount() != 2 {
		t.Errorf("expected 2 trades restored, got %d", reloaded.TradeCount())
	}
	m := reloaded.CalculateMetrics()
	if m.TotalTrades != 1 || m.WinningTrades != 1 || !near(m.TotalProfit, 10) {
		t.Errorf("restored counters: %+v", m)
	}
}

// TestDailyReport writes report_<date>.json with today's numbers.
func TestDailyReport(t *testing.T) {
	tr, dir := newTestTracker(t, 1000)

	// Nothing recorded yet.
	if report, err := tr.DailyReport(); err != nil || report != nil {
		t.Fatalf("empty day should produce no report, got %v, %v", report, err)
	}

	tr.RecordTrade("A/USDT", "entry", 100, 0, 1, 0.1)
	tr.RecordTrade("A/USDT", "exit", 100, 105, 1, 0.2)

	report, err := tr.DailyReport()
	if err != nil {
		t.Fatalf("daily report: %v", err)
	}
	if report.DailyMetrics.Trades != 1 || report.DailyMetrics.Wins != 1 {
		t.Errorf("daily metrics: %+v", report.DailyMetrics)
	}
	// Fees count every fill, profit only the exits.
	if !near(report.DailyMetrics.Fees, 0.3) || !near(report.DailyMetrics.Profit, 5) {
		t.Errorf("daily sums: %+v", report.DailyMetrics)
	}

	name := "report_" + time.Now().Format("2006-01-02") + ".json"
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("report file missing: %v", err)
	}
}

// TestRecentTrades returns newest first, capped at n.
func TestRecentTrades(t *testing.T) {
	tr, _ := newTestTracker(t, 1000)
	tr.RecordTrade("A/USDT", "entry", 100, 0, 1, 0)
	time.Sleep(2 * time.Millisecond)
	tr.RecordTrade("B/USDT", "entry", 100, 0, 1, 0)
	time.Sleep(2 * time.Millisecond)
	tr.RecordTrade("C/USDT", "entry", 100, 0, 1, 0)

	recent := tr.RecentTrades(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(recent))
	}
	if recent[0].Symbol != "C/USDT" || recent[1].Symbol != "B/USDT" {
		t.Errorf("ordering: %v %v", recent[0].Symbol, recent[1].Symbol)
	}
}
