// Package perf records completed trades and derives strategy
// performance metrics from them.
package perf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	tradesFile      = "trades.json"
	performanceFile = "performance.json"
)

// Exit-class actions close a position and carry realized profit.
// Everything else (entries, scale-ins) is recorded but not scored.
func isExit(action string) bool {
	switch action {
	case "exit", "take_profit", "stop_loss":
		return true
	}
	return false
}

// Trade is one recorded fill. Profit fields are zero unless the action
// closes a position.
type Trade struct {
	Symbol       string    `json:"symbol"`
	Action       string    `json:"action"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	Size         float64   `json:"size"`
	ProfitPct    float64   `json:"profit_pct"`
	ProfitAmount float64   `json:"profit_amount"`
	Fees         float64   `json:"fees"`
	Timestamp    time.Time `json:"timestamp"`
}

// Metrics is the overall scorecard across all recorded trades.
type Metrics struct {
	TotalTrades     int       `json:"total_trades"`
	WinningTrades   int       `json:"winning_trades"`
	LosingTrades    int       `json:"losing_trades"`
	WinRate         float64   `json:"win_rate"`
	AvgWin          float64   `json:"avg_win"`
	AvgLoss         float64   `json:"avg_loss"`
	ProfitLossRatio float64   `json:"profit_loss_ratio"`
	Expectancy      float64   `json:"expectancy"`
	TotalProfit     float64   `json:"total_profit"`
	TotalLoss       float64   `json:"total_loss"`
	TotalFees       float64   `json:"total_fees"`
	NetProfit       float64   `json:"net_profit"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	Timestamp       time.Time `json:"timestamp"`
}

// DailyMetrics summarizes a single calendar day.
type DailyMetrics struct {
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	WinRate   float64 `json:"win_rate"`
	Profit    float64 `json:"profit"`
	Fees      float64 `json:"fees"`
	NetProfit float64 `json:"net_profit"`
}

// Report is the daily report written to disk.
type Report struct {
	Date           string       `json:"date"`
	DailyMetrics   DailyMetrics `json:"daily_metrics"`
	OverallMetrics Metrics      `json:"overall_metrics"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Tracker accumulates trades and persists them under a data directory.
// Counters are rebuilt from trades.json at startup so the two files can
// never disagree.
type Tracker struct {
	mu      sync.Mutex
	dir     string
	balance float64 // starting balance, anchors the drawdown walk
	logger  zerolog.Logger

	trades []Trade

	totalTrades   int
	winningTrades int
	losingTrades  int
	totalProfit   float64
	totalLoss     float64
	totalFees     float64
}

// NewTracker loads any existing trade history from dir.
func NewTracker(dir string, accountBalance float64, logger zerolog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	t := &Tracker{
		dir:     dir,
		balance: accountBalance,
		logger:  logger.With().Str("component", "perf").Logger(),
	}
	t.load()
	return t, nil
}

// RecordTrade appends one fill and persists the updated history. Exit
// actions update the running counters; entries are stored untouched.
func (t *Tracker) RecordTrade(symbol, action string, entryPrice, exitPrice, size, fees float64) Trade {
	t.mu.Lock()
	defer t.mu.Unlock()

	trade := Trade{
		Symbol:     symbol,
		Action:     action,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		Size:       size,
		Fees:       fees,
		Timestamp:  time.Now(),
	}
	if isExit(action) && entryPrice > 0 {
		trade.ProfitPct = (exitPrice/entryPrice - 1) * 100
		trade.ProfitAmount = (exitPrice - entryPrice) * size
	}

	t.trades = append(t.trades, trade)
	if isExit(action) {
		t.score(trade)
		t.logger.Info().
			Str("symbol", symbol).
			Str("action", action).
			Float64("profit_amount", trade.ProfitAmount).
			Float64("profit_pct", trade.ProfitPct).
			Msg("trade recorded")
	}

	t.save()
	return trade
}

func (t *Tracker) score(trade Trade) {
	t.totalTrades++
	if trade.ProfitAmount > 0 {
		t.winningTrades++
		t.totalProfit += trade.ProfitAmount
	} else {
		t.losingTrades++
		t.totalLoss += -trade.ProfitAmount
	}
	t.totalFees += trade.Fees
}

// CalculateMetrics derives the overall scorecard.
func (t *Tracker) CalculateMetrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metricsLocked()
}

func (t *Tracker) metricsLocked() Metrics {
	m := Metrics{
		TotalTrades:   t.totalTrades,
		WinningTrades: t.winningTrades,
		LosingTrades:  t.losingTrades,
		TotalProfit:   t.totalProfit,
		TotalLoss:     t.totalLoss,
		TotalFees:     t.totalFees,
		NetProfit:     t.totalProfit - t.totalLoss - t.totalFees,
		Timestamp:     time.Now(),
	}
	if t.totalTrades > 0 {
		m.WinRate = float64(t.winningTrades) / float64(t.totalTrades) * 100
	}
	if t.winningTrades > 0 {
		m.AvgWin = t.totalProfit / float64(t.winningTrades)
	}
	if t.losingTrades > 0 {
		m.AvgLoss = t.totalLoss / float64(t.losingTrades)
	}
	if m.AvgLoss > 0 {
		m.ProfitLossRatio = m.AvgWin / m.AvgLoss
	}
	m.Expectancy = m.WinRate/100*m.AvgWin - (100-m.WinRate)/100*m.AvgLoss

	m.MaxDrawdown = t.maxDrawdownLocked()
	if t.balance > 0 {
		m.MaxDrawdownPct = m.MaxDrawdown / t.balance * 100
	}
	return m
}

// maxDrawdownLocked walks the equity curve trade by trade and returns
// the deepest peak-to-trough drop in dollars.
func (t *Tracker) maxDrawdownLocked() float64 {
	if len(t.trades) == 0 {
		return 0
	}
	sorted := make([]Trade, len(t.trades))
	copy(sorted, t.trades)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	balance := t.balance
	peak := balance
	var drawdown float64
	for _, trade := range sorted {
		if !isExit(trade.Action) {
			continue
		}
		balance += trade.ProfitAmount - trade.Fees
		if balance > peak {
			peak = balance
		}
		if dd := peak - balance; dd > drawdown {
			drawdown = dd
		}
	}
	return drawdown
}

// DailyReport summarizes today's trades, writes report_<date>.json and
// returns the report. A day without trades returns nil.
func (t *Tracker) DailyReport() (*Report, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	var daily DailyMetrics
	var seen bool
	for _, trade := range t.trades {
		if trade.Timestamp.Format("2006-01-02") != today {
			continue
		}
		seen = true
		daily.Fees += trade.Fees
		if !isExit(trade.Action) {
			continue
		}
		daily.Profit += trade.ProfitAmount
		if trade.ProfitAmount > 0 {
			daily.Wins++
		} else {
			daily.Losses++
		}
	}
	if !seen {
		t.logger.Info().Msg("no trades today, skipping report")
		return nil, nil
	}

	daily.Trades = daily.Wins + daily.Losses
	daily.NetProfit = daily.Profit - daily.Fees
	if daily.Trades > 0 {
		daily.WinRate = float64(daily.Wins) / float64(daily.Trades) * 100
	}

	report := &Report{
		Date:           today,
		DailyMetrics:   daily,
		OverallMetrics: t.metricsLocked(),
		Timestamp:      time.Now(),
	}

	path := filepath.Join(t.dir, fmt.Sprintf("report_%s.json", today))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	t.logger.Info().
		Str("path", path).
		Int("trades", daily.Trades).
		Float64("net_profit", daily.NetProfit).
		Msg("daily report written")
	return report, nil
}

// RecentTrades returns up to n trades, newest first.
func (t *Tracker) RecentTrades(n int) []Trade {
	t.mu.Lock()
	defer t.mu.Unlock()

	sorted := make([]Trade, len(t.trades))
	copy(sorted, t.trades)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// TradeCount reports how many trades are held, scored or not.
func (t *Tracker) TradeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.trades)
}

func (t *Tracker) load() {
	data, err := os.ReadFile(filepath.Join(t.dir, tradesFile))
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Error().Err(err).Msg("trade history unreadable")
		}
		return
	}
	if err := json.Unmarshal(data, &t.trades); err != nil {
		t.logger.Warn().Err(err).Msg("trade history corrupt, starting empty")
		t.trades = nil
		return
	}
	for _, trade := range t.trades {
		if isExit(trade.Action) {
			t.score(trade)
		}
	}
	t.logger.Info().Int("trades", len(t.trades)).Msg("trade history loaded")
}

func (t *Tracker) save() {
	data, err := json.MarshalIndent(t.trades, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(t.dir, tradesFile), data, 0o644)
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("trade history save failed")
	}

	metrics := t.metricsLocked()
	data, err = json.MarshalIndent(metrics, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(t.dir, performanceFile), data, 0o644)
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("performance snapshot save failed")
	}
}
