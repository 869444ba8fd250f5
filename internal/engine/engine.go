// Package engine drives the momentum strategy: a scheduled market scan
// that opens staged positions and a continuous monitor that trails
// stops, scales in on breakouts and walks the take-profit ladder.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"momentum-trading-bot/internal/analyzer"
	"momentum-trading-bot/internal/circuit"
	"momentum-trading-bot/internal/events"
	"momentum-trading-bot/internal/executor"
	"momentum-trading-bot/internal/logging"
	"momentum-trading-bot/internal/market"
	"momentum-trading-bot/internal/perf"
	"momentum-trading-bot/internal/risk"
	"momentum-trading-bot/internal/signal"
	"momentum-trading-bot/internal/state"
)

const (
	firstStageFraction = 0.5
	initialStopRatio   = 0.98 // stop 2% under the filled average

	previousHighDays    = 7
	conditionalLimitPad = 1.005 // limit slightly above the trigger
	conditionalRSICap   = 70.0
	conditionalMaxAge   = 4 * time.Hour

	trailTriggerRatio = 1.03 // start trailing above +3%
	trailStepRatio    = 1.01

	tp1Fraction = 0.30
	tp2Fraction = 0.40
	tp3Fraction = 0.30

	timeStopAge       = 4 * time.Hour
	timeStopMinProfit = 1.0 // percent

	topSectorCount = 3
)

// Config holds the engine cadence and entry limits.
type Config struct {
	ScanInterval    time.Duration
	MonitorInterval time.Duration
	MaxNewPositions int

	// SkipBlacklist and SkipSectors turn the respective refresh jobs
	// into no-ops, mainly for fast local runs.
	SkipBlacklist bool
	SkipSectors   bool
}

// Deps collects the engine's collaborators. Provider, Analyzer,
// Signals, Risk and Executor are required; the rest may be nil and the
// matching feature switches off.
type Deps struct {
	Provider *market.Provider
	Analyzer *analyzer.Analyzer
	Signals  *signal.Generator
	Risk     *risk.Manager
	Executor *executor.Executor

	Perf    *perf.Tracker
	Breaker *circuit.Breaker
	Store   *state.Store
	Bus     *events.EventBus
}

// Position is one open momentum position. The monitor goroutine is the
// only writer after insertion; readers copy under the engine lock.
type Position struct {
	Symbol        string    `json:"symbol"`
	Size          float64   `json:"size"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	StopLoss      float64   `json:"stop_loss"`
	TargetPct     float64   `json:"target_pct"`
	Stage         int       `json:"stage"`
	Sector        string    `json:"sector,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
	HighestPrice  float64   `json:"highest_price"`
	TP1Done       bool      `json:"tp1_done"`
	TP2Done       bool      `json:"tp2_done"`

	StopOrder   *executor.StopOrder        `json:"-"`
	Conditional *executor.ConditionalOrder `json:"-"`
}

// Engine owns the position table and runs the scan/monitor cycle.
type Engine struct {
	cfg  Config
	deps Deps
	log  *logging.Logger

	mu          sync.RWMutex
	positions   map[string]*Position
	lastSignals []signal.Signal
	lastScanAt  time.Time
	scanCount   int
	running     bool

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	tasksMu sync.Mutex
	tasks   map[string]*taskStats
}

// New validates the wiring and applies cadence defaults.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Provider == nil || deps.Analyzer == nil || deps.Signals == nil ||
		deps.Risk == nil || deps.Executor == nil {
		return nil, errors.New("engine: provider, analyzer, signals, risk and executor are required")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Minute
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	if cfg.MaxNewPositions <= 0 {
		cfg.MaxNewPositions = 3
	}
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		log:       logging.WithComponent("engine"),
		positions: make(map[string]*Position),
		tasks:     make(map[string]*taskStats),
	}, nil
}

// Start restores persisted positions, schedules the periodic jobs and
// launches the position monitor. It returns once everything is running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.stopCh = make(chan struct{})

	e.restorePositions(e.ctx)

	if err := e.setupSchedule(); err != nil {
		e.cancel()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}
	e.cron.Start()

	e.wg.Add(1)
	go e.monitorLoop()

	// Prime the sector ranking and the blacklist so the first scan does
	// not run against empty regime data.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runJob("sector_ranking", e.RefreshSectors)
		e.runJob("blacklist_refresh", e.RefreshBlacklist)
	}()

	if e.deps.Bus != nil {
		e.deps.Bus.Publish(events.Event{
			Type: events.EventEngineStarted,
			Data: map[string]interface{}{
				"scan_interval":     e.cfg.ScanInterval.String(),
				"max_new_positions": e.cfg.MaxNewPositions,
				"restored":          e.PositionCount(),
			},
		})
	}
	e.log.Info("engine started",
		"scan_interval", e.cfg.ScanInterval,
		"monitor_interval", e.cfg.MonitorInterval,
		"restored_positions", e.PositionCount())
	return nil
}

// Stop halts the scheduler and the monitor, waits for in-flight work
// and logs the task timing summary.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	close(e.stopCh)
	e.wg.Wait()

	e.logTaskSummary()
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(events.Event{
			Type: events.EventEngineStopped,
			Data: map[string]interface{}{"open_positions": e.PositionCount()},
		})
	}
	e.log.Info("engine stopped", "open_positions", e.PositionCount())
}

// restorePositions reloads open positions from the state store and
// books them back into the risk counters so the scan cannot double-buy
// a held symbol after a restart.
func (e *Engine) restorePositions(ctx context.Context) {
	if e.deps.Store == nil {
		return
	}
	saved, err := e.deps.Store.LoadAll(ctx)
	if err != nil {
		e.log.Warn("position restore failed", "error", err)
		return
	}
	if len(saved) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for sym, sp := range saved {
		pos := positionFromState(sp)
		e.positions[sym] = pos
		e.deps.Risk.BookPosition(sym, pos.Sector)
		e.log.Info("position restored",
			"symbol", sym,
			"size", pos.Size,
			"avg_entry", pos.AvgEntryPrice,
			"stop_loss", pos.StopLoss,
			"stage", pos.Stage)
	}
}

func positionFromState(sp *state.Position) *Position {
	pos := &Position{
		Symbol:        sp.Symbol,
		Size:          sp.Size,
		AvgEntryPrice: sp.AvgEntryPrice,
		StopLoss:      sp.StopLoss,
		TargetPct:     sp.TargetPct,
		Stage:         sp.Stage,
		Sector:        sp.Sector,
		OpenedAt:      sp.OpenedAt,
		HighestPrice:  sp.HighestPrice,
		TP1Done:       sp.TP1Done,
		TP2Done:       sp.TP2Done,
	}
	if pos.HighestPrice < pos.AvgEntryPrice {
		pos.HighestPrice = pos.AvgEntryPrice
	}
	if sp.StopOrderID != "" || sp.StopSoft {
		pos.StopOrder = &executor.StopOrder{
			OrderID:   sp.StopOrderID,
			Symbol:    sp.Symbol,
			StopPrice: sp.StopLoss,
			Size:      sp.Size,
			Soft:      sp.StopSoft,
		}
	}
	if co := sp.Conditional; co != nil {
		pos.Conditional = &executor.ConditionalOrder{
			OrderID:      co.OrderID,
			Symbol:       sp.Symbol,
			TriggerPrice: co.TriggerPrice,
			LimitPrice:   co.LimitPrice,
			Size:         co.Size,
			Stage:        co.Stage,
			Condition: executor.Condition{
				Type:     executor.PriceAbove,
				Price:    co.TriggerPrice,
				RSIBelow: co.RSIBelow,
			},
			Soft:     co.Soft,
			PlacedAt: co.PlacedAt,
		}
	}
	return pos
}

func stateFromPosition(pos *Position) *state.Position {
	sp := &state.Position{
		Symbol:        pos.Symbol,
		Size:          pos.Size,
		AvgEntryPrice: pos.AvgEntryPrice,
		StopLoss:      pos.StopLoss,
		TargetPct:     pos.TargetPct,
		Stage:         pos.Stage,
		Sector:        pos.Sector,
		OpenedAt:      pos.OpenedAt,
		HighestPrice:  pos.HighestPrice,
		TP1Done:       pos.TP1Done,
		TP2Done:       pos.TP2Done,
	}
	if so := pos.StopOrder; so != nil {
		sp.StopOrderID = so.OrderID
		sp.StopSoft = so.Soft
	}
	if co := pos.Conditional; co != nil {
		sp.Conditional = &state.ConditionalOrder{
			OrderID:      co.OrderID,
			TriggerPrice: co.TriggerPrice,
			LimitPrice:   co.LimitPrice,
			Size:         co.Size,
			Stage:        co.Stage,
			RSIBelow:     co.Condition.RSIBelow,
			Soft:         co.Soft,
			PlacedAt:     co.PlacedAt,
		}
	}
	return sp
}

// persist mirrors one position into the state store. The caller must
// be the only goroutine mutating the position.
func (e *Engine) persist(ctx context.Context, pos *Position) {
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.Save(ctx, stateFromPosition(pos)); err != nil {
		e.log.Warn("position persist failed", "symbol", pos.Symbol, "error", err)
	}
}

func (e *Engine) dropState(ctx context.Context, symbol string) {
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.Delete(ctx, symbol); err != nil {
		e.log.Warn("state delete failed", "symbol", symbol, "error", err)
	}
}

// ScanMarket runs one full scan pass: regime assessment, the market
// risk gate, signal generation, risk filtering and up to
// MaxNewPositions staged entries.
func (e *Engine) ScanMarket(ctx context.Context) error {
	start := time.Now()

	symbols := e.deps.Provider.TradableSymbols()
	if len(symbols) == 0 {
		return errors.New("no tradable symbols")
	}

	marketState := e.deps.Analyzer.AssessMarketState()
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(events.Event{
			Type: events.EventScanStarted,
			Data: map[string]interface{}{
				"symbols":      len(symbols),
				"market_state": string(marketState),
			},
		})
		e.deps.Bus.PublishMarketState(string(marketState))
	}

	if !e.deps.Risk.CheckMarketRisk() {
		e.log.Warn("market risk too high, no new entries this scan")
		return nil
	}
	if e.deps.Breaker != nil {
		if ok, reason := e.deps.Breaker.CanTrade(); !ok {
			e.log.Warn("circuit breaker blocks new entries", "reason", reason)
			return nil
		}
	}

	window := e.deps.Analyzer.DetermineMomentumWindow()
	snap := signal.Snapshot{
		State:      marketState,
		TopSectors: e.topSectors(),
		Window:     window,
		Threshold:  window.Threshold,
	}

	sigStart := time.Now()
	sigs := e.deps.Signals.Scan(symbols, snap)
	e.trackTask("signal_scan", time.Since(sigStart))

	e.mu.Lock()
	e.lastSignals = sigs
	e.lastScanAt = time.Now()
	e.scanCount++
	count := e.scanCount
	e.mu.Unlock()

	filtered := e.deps.Risk.FilterSignals(sigs)
	ranked := e.deps.Risk.RankSignals(filtered)

	limit := e.cfg.MaxNewPositions
	if limit > len(ranked) {
		limit = len(ranked)
	}
	executed := 0
	for _, sig := range ranked[:limit] {
		ok, reason := e.deps.Risk.CanOpenPosition(sig)
		if !ok {
			e.log.Info("entry blocked", "symbol", sig.Symbol, "reason", reason)
			continue
		}
		if e.deps.Bus != nil {
			e.deps.Bus.PublishSignal(sig.Symbol, sig.Momentum, sig.Score, sig.EntryPrice)
		}
		if err := e.enterPosition(ctx, sig); err != nil {
			e.log.Error("entry failed", "symbol", sig.Symbol, "error", err)
			continue
		}
		executed++
	}

	elapsed := time.Since(start)
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(events.Event{
			Type: events.EventScanCompleted,
			Data: map[string]interface{}{
				"symbols":    len(symbols),
				"signals":    len(sigs),
				"filtered":   len(filtered),
				"entries":    executed,
				"elapsed_ms": elapsed.Milliseconds(),
			},
		})
	}
	e.log.Info("scan completed",
		"symbols", len(symbols),
		"market_state", marketState,
		"signals", len(sigs),
		"filtered", len(filtered),
		"entries", executed,
		"elapsed", elapsed)

	if count%10 == 0 {
		e.logTaskSummary()
	}
	return nil
}

func (e *Engine) topSectors() []string {
	if e.cfg.SkipSectors {
		return nil
	}
	return e.deps.Analyzer.TopSectors(topSectorCount)
}

// enterPosition opens the first 50% stage, arms the second-stage
// breakout conditional and places the protective stop.
func (e *Engine) enterPosition(ctx context.Context, sig signal.Signal) error {
	size := e.deps.Risk.CalculatePositionSize(sig)
	if size <= 0 {
		return fmt.Errorf("position size came out zero for %s", sig.Symbol)
	}

	firstStage := size * firstStageFraction
	res, err := e.deps.Executor.ExecuteEntry(ctx, sig.Symbol, firstStage, sig.EntryPrice, "first_stage")
	if err != nil {
		// Sizing booked exposure; release it so a failed entry does not
		// pin the risk budget.
		e.deps.Risk.UpdatePosition(sig.Symbol, "close", 0)
		return fmt.Errorf("first stage entry: %w", err)
	}

	stopPrice := res.AvgPrice * initialStopRatio
	pos := &Position{
		Symbol:        sig.Symbol,
		Size:          res.Size,
		AvgEntryPrice: res.AvgPrice,
		StopLoss:      stopPrice,
		TargetPct:     sig.ProfitTarget * 100,
		Stage:         1,
		Sector:        sig.Sector,
		OpenedAt:      time.Now(),
		HighestPrice:  res.AvgPrice,
	}

	pos.Conditional = e.armSecondStage(ctx, sig.Symbol, size*(1-firstStageFraction))

	stop, err := e.deps.Executor.SetStopLoss(ctx, sig.Symbol, stopPrice, res.Size)
	if err != nil {
		e.log.Warn("stop placement failed, monitor will enforce",
			"symbol", sig.Symbol, "error", err)
	} else {
		pos.StopOrder = stop
	}

	// Persist before publishing the pointer so the monitor never sees a
	// half-built position.
	e.persist(ctx, pos)

	e.mu.Lock()
	e.positions[sig.Symbol] = pos
	e.mu.Unlock()

	if e.deps.Bus != nil {
		e.deps.Bus.PublishPositionOpened(sig.Symbol, res.AvgPrice, res.Size,
			stopPrice, res.AvgPrice*(1+sig.ProfitTarget))
	}
	e.log.Info("first stage entered",
		"symbol", sig.Symbol,
		"avg_price", res.AvgPrice,
		"size", res.Size,
		"stop_loss", stopPrice,
		"target_pct", pos.TargetPct)
	return nil
}

// armSecondStage places the breakout conditional for the second half.
// Returns nil when the recent high is unavailable or placement fails;
// the position then stays single-stage.
func (e *Engine) armSecondStage(ctx context.Context, symbol string, size float64) *executor.ConditionalOrder {
	prevHigh, err := e.deps.Provider.PreviousHigh(symbol, previousHighDays)
	if err != nil || prevHigh <= 0 {
		e.log.Warn("second stage skipped, no recent high", "symbol", symbol, "error", err)
		return nil
	}

	cond := executor.Condition{
		Type:     executor.PriceAbove,
		Price:    prevHigh,
		RSIBelow: conditionalRSICap,
	}
	co, err := e.deps.Executor.SetConditionalOrder(ctx, symbol, size,
		prevHigh*conditionalLimitPad, "second_stage", cond)
	if err != nil {
		e.log.Warn("second stage conditional failed", "symbol", symbol, "error", err)
		return nil
	}
	e.log.Info("second stage armed", "symbol", symbol, "trigger", prevHigh, "size", size)
	return co
}

// Running reports whether Start has been called and Stop has not.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Positions returns a copy of the open position table sorted by symbol.
func (e *Engine) Positions() []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PositionCount returns the number of open positions.
func (e *Engine) PositionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.positions)
}

// RecentSignals returns the candidates from the latest scan.
func (e *Engine) RecentSignals() []signal.Signal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]signal.Signal, len(e.lastSignals))
	copy(out, e.lastSignals)
	return out
}

// LastScanTime returns when the latest scan finished.
func (e *Engine) LastScanTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastScanAt
}
