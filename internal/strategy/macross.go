// Package strategy hosts self-contained trading strategies that drive
// the order executor directly instead of going through the momentum
// signal pipeline.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"momentum-trading-bot/internal/exchange"
	"momentum-trading-bot/internal/executor"
	"momentum-trading-bot/internal/logging"
	"momentum-trading-bot/internal/market"
	"momentum-trading-bot/internal/risk"
)

// maCrossStage tags journal entries so MA cross trades can be told
// apart from momentum entries in the shared journals.
const maCrossStage = "ma_cross"

// historyBars is how many candles each pass fetches. It must cover the
// long window plus the previous bar used for cross detection.
const historyBars = 100

// Config holds the moving-average crossover parameters. Zero values
// fall back to defaults in NewMACross; Symbol is required.
type Config struct {
	Symbol               string
	Timeframe            string
	ShortWindow          int
	LongWindow           int
	PositionSize         float64 // fraction of the account balance per entry
	MaxPositions         int
	MaxTradesPerDay      int
	StopLossPct          float64
	TakeProfitPct        float64
	TrailingStop         bool
	TrailingStopDistance float64
	MinVolumeUSD         float64 // 0 disables the liquidity gate
	CheckInterval        time.Duration
	AccountBalance       float64
}

// MACross trades golden and death crosses of two simple moving
// averages on a single symbol. It holds no state of its own beyond
// trailing stops; open positions are derived from the journals on
// every reload, so restarts pick up where the last run stopped.
type MACross struct {
	cfg      Config
	client   exchange.Client
	exec     *executor.Executor
	trailing *risk.TrailingStops
	log      *logging.Logger

	mu      sync.Mutex
	active  []executor.EntryRecord
	entries []executor.EntryRecord
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMACross validates the configuration and fills defaults.
func NewMACross(cfg Config, client exchange.Client, exec *executor.Executor) (*MACross, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("ma cross: symbol is required")
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = 5
	}
	if cfg.LongWindow <= 0 {
		cfg.LongWindow = 20
	}
	if cfg.ShortWindow >= cfg.LongWindow {
		return nil, fmt.Errorf("ma cross: short window %d must be below long window %d", cfg.ShortWindow, cfg.LongWindow)
	}
	if cfg.PositionSize <= 0 {
		cfg.PositionSize = 0.1
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = 3
	}
	if cfg.MaxTradesPerDay <= 0 {
		cfg.MaxTradesPerDay = 3
	}
	if cfg.StopLossPct <= 0 {
		cfg.StopLossPct = 3
	}
	if cfg.TakeProfitPct <= 0 {
		cfg.TakeProfitPct = 5
	}
	if cfg.TrailingStopDistance <= 0 {
		cfg.TrailingStopDistance = 2
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.AccountBalance <= 0 {
		cfg.AccountBalance = 1000
	}

	return &MACross{
		cfg:      cfg,
		client:   client,
		exec:     exec,
		trailing: risk.NewTrailingStops(cfg.TrailingStopDistance),
		log:      logging.WithComponent("ma-cross"),
	}, nil
}

// Start loads open positions from the journals and begins the check
// loop. It fails when the strategy is already running.
func (s *MACross) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("ma cross strategy already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.reloadHistory(); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("load trading history: %w", err)
	}

	s.wg.Add(1)
	go s.loop()
	s.log.Info("strategy started",
		"symbol", s.cfg.Symbol,
		"timeframe", s.cfg.Timeframe,
		"windows", fmt.Sprintf("%d/%d", s.cfg.ShortWindow, s.cfg.LongWindow),
		"interval", s.cfg.CheckInterval)
	return nil
}

// Stop halts the check loop and waits for the current pass to finish.
func (s *MACross) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("strategy stopped", "symbol", s.cfg.Symbol)
}

// Running reports whether the check loop is active.
func (s *MACross) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ActivePositions returns a copy of the journal-derived open entries.
func (s *MACross) ActivePositions() []executor.EntryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]executor.EntryRecord, len(s.active))
	copy(out, s.active)
	return out
}

func (s *MACross) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.RunOnce(context.Background()); err != nil {
				s.log.Error("strategy pass failed", "symbol", s.cfg.Symbol, "error", err)
			}
		}
	}
}

// RunOnce performs one full pass: fetch candles, close positions whose
// exit conditions are met, then open a new one on a golden cross.
// Exits always run before entries so a death cross on the same bar
// cannot be shadowed by a fresh position.
func (s *MACross) RunOnce(ctx context.Context) error {
	candles, err := s.client.FetchOHLCV(s.cfg.Symbol, s.cfg.Timeframe, historyBars)
	if err != nil {
		return fmt.Errorf("fetch candles %s: %w", s.cfg.Symbol, err)
	}
	if len(candles) < s.cfg.LongWindow+1 {
		s.log.Debug("not enough candles", "symbol", s.cfg.Symbol, "have", len(candles), "need", s.cfg.LongWindow+1)
		return nil
	}

	price := candles[len(candles)-1].Close
	cross := market.DetectCrossover(candles, s.cfg.ShortWindow, s.cfg.LongWindow)

	if err := s.checkExits(ctx, price, cross); err != nil {
		return err
	}
	if cross == 1 {
		return s.tryEnter(ctx, price)
	}
	return nil
}

// checkExits walks the open positions and closes every one whose exit
// condition fired at the current price.
func (s *MACross) checkExits(ctx context.Context, price float64, cross int) error {
	s.mu.Lock()
	active := make([]executor.EntryRecord, len(s.active))
	copy(active, s.active)
	s.mu.Unlock()

	for _, pos := range active {
		reason := s.exitReason(pos, price, cross)
		if reason == "" {
			continue
		}
		res, err := s.exec.ExecuteExit(ctx, pos.Symbol, pos.Size, price, reason)
		if err != nil {
			s.log.Error("exit failed", "symbol", pos.Symbol, "order_id", pos.OrderID, "reason", reason, "error", err)
			continue
		}
		s.trailing.Untrack(pos.OrderID)
		s.log.Info("position closed",
			"symbol", pos.Symbol,
			"reason", reason,
			"entry", pos.AvgPrice,
			"exit", res.AvgPrice,
			"size", res.Size)
		if err := s.reloadHistory(); err != nil {
			return fmt.Errorf("reload after exit: %w", err)
		}
	}
	return nil
}

// exitReason decides whether a position should close. Order matters:
// the protective stop (trailing or fixed) wins over the profit target,
// which wins over the reversal signal.
func (s *MACross) exitReason(pos executor.EntryRecord, price float64, cross int) string {
	profitPct := (price - pos.AvgPrice) / pos.AvgPrice * 100

	if s.cfg.TrailingStop {
		if upd := s.trailing.Observe(pos.OrderID, price); upd != nil && upd.Triggered {
			return "trailing_stop"
		}
	} else if profitPct <= -s.cfg.StopLossPct {
		return "stop_loss"
	}
	if profitPct >= s.cfg.TakeProfitPct {
		return "take_profit"
	}
	if cross == -1 {
		return "sell_signal"
	}
	return ""
}

// tryEnter opens a position on a golden cross, subject to the position
// cap, the daily trade cap and the liquidity gate.
func (s *MACross) tryEnter(ctx context.Context, price float64) error {
	s.mu.Lock()
	activeCount := len(s.active)
	today := s.entriesTodayLocked()
	s.mu.Unlock()

	if activeCount >= s.cfg.MaxPositions {
		s.log.Debug("entry skipped, position cap", "symbol", s.cfg.Symbol, "active", activeCount)
		return nil
	}
	if today >= s.cfg.MaxTradesPerDay {
		s.log.Debug("entry skipped, daily cap", "symbol", s.cfg.Symbol, "today", today)
		return nil
	}
	if s.cfg.MinVolumeUSD > 0 {
		tick, err := s.client.FetchTicker(s.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("fetch ticker %s: %w", s.cfg.Symbol, err)
		}
		if tick.QuoteVolume < s.cfg.MinVolumeUSD {
			s.log.Debug("entry skipped, thin volume", "symbol", s.cfg.Symbol, "volume", tick.QuoteVolume)
			return nil
		}
	}

	size := s.cfg.AccountBalance * s.cfg.PositionSize / price
	res, err := s.exec.ExecuteEntry(ctx, s.cfg.Symbol, size, price, maCrossStage)
	if err != nil {
		return fmt.Errorf("entry %s: %w", s.cfg.Symbol, err)
	}
	if s.cfg.TrailingStop {
		s.trailing.TrackFrom(res.OrderID, res.AvgPrice, res.AvgPrice*(1-s.cfg.StopLossPct/100))
	}
	s.log.Info("position opened",
		"symbol", res.Symbol,
		"order_id", res.OrderID,
		"size", res.Size,
		"price", res.AvgPrice)
	return s.reloadHistory()
}

// reloadHistory rebuilds the open-position view from the journals. The
// journals are shared with the momentum engine, so only entries staged
// by this strategy count toward its caps. Restored positions that are
// not yet tracked get a trailing stop one fixed stop below entry.
func (s *MACross) reloadHistory() error {
	hist, err := s.exec.TradingHistory(executor.Filter{Symbol: s.cfg.Symbol})
	if err != nil {
		return err
	}

	active := make([]executor.EntryRecord, 0, len(hist.Stats.ActivePositions))
	for _, pos := range hist.Stats.ActivePositions {
		if pos.Stage == maCrossStage {
			active = append(active, pos)
		}
	}
	entries := make([]executor.EntryRecord, 0, len(hist.EntryOrders))
	for _, e := range hist.EntryOrders {
		if e.Stage == maCrossStage {
			entries = append(entries, e)
		}
	}

	s.mu.Lock()
	s.active = active
	s.entries = entries
	s.mu.Unlock()

	if s.cfg.TrailingStop {
		for _, pos := range active {
			if _, ok := s.trailing.StopPrice(pos.OrderID); !ok {
				s.trailing.TrackFrom(pos.OrderID, pos.AvgPrice, pos.AvgPrice*(1-s.cfg.StopLossPct/100))
			}
		}
	}
	return nil
}

// entriesTodayLocked counts entries journaled today in UTC. Callers
// hold s.mu.
func (s *MACross) entriesTodayLocked() int {
	now := time.Now().UTC()
	n := 0
	for _, e := range s.entries {
		ts := e.Timestamp.UTC()
		if ts.Year() == now.Year() && ts.YearDay() == now.YearDay() {
			n++
		}
	}
	return n
}
