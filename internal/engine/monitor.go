package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"momentum-trading-bot/internal/events"
	"momentum-trading-bot/internal/executor"
)

// monitorLoop drives the continuous position check between scans.
func (e *Engine) monitorLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.MonitorPositions(e.ctx)
		}
	}
}

// MonitorPositions runs one pass over all open positions. A panic or
// error on one symbol never affects the others.
func (e *Engine) MonitorPositions(ctx context.Context) {
	e.mu.RLock()
	open := make([]*Position, 0, len(e.positions))
	for _, pos := range e.positions {
		open = append(open, pos)
	}
	e.mu.RUnlock()
	if len(open) == 0 {
		return
	}

	start := time.Now()
	for _, pos := range open {
		e.checkPosition(ctx, pos)
	}
	e.trackTask("position_monitor", time.Since(start))
}

// checkPosition applies the exit and scale-in rules to one position, in
// order: native stop fill, conditional resolution, soft stop, trailing,
// take-profit ladder, time stop.
func (e *Engine) checkPosition(ctx context.Context, pos *Position) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("position check panicked", "symbol", pos.Symbol, "panic", fmt.Sprint(r))
		}
	}()

	if filled, res, err := e.deps.Executor.StopFilled(ctx, pos.StopOrder); err != nil {
		e.log.Warn("stop poll failed", "symbol", pos.Symbol, "error", err)
	} else if filled {
		// The exchange already sold; nothing is left to cancel.
		e.mu.Lock()
		pos.StopOrder = nil
		e.mu.Unlock()
		e.finishClose(ctx, pos, res, "stop_loss")
		return
	}

	price, err := e.deps.Provider.CurrentPrice(pos.Symbol)
	if err != nil {
		e.log.Debug("price unavailable", "symbol", pos.Symbol, "error", err)
		return
	}

	if price > pos.HighestPrice {
		e.mu.Lock()
		pos.HighestPrice = price
		e.mu.Unlock()
	}

	if scaled := e.resolveConditional(ctx, pos, price); scaled {
		// The basis just moved; judge exits against fresh data next tick.
		return
	}

	// Soft enforcement covers tracked-soft stops and positions whose
	// stop order could not be placed.
	if (pos.StopOrder == nil || pos.StopOrder.Soft) && price <= pos.StopLoss {
		e.log.Info("stop level breached", "symbol", pos.Symbol, "price", price, "stop", pos.StopLoss)
		e.closePosition(ctx, pos, price, "stop_loss")
		return
	}

	if price/pos.AvgEntryPrice > trailTriggerRatio {
		newStop := math.Max(pos.AvgEntryPrice, pos.StopLoss*trailStepRatio)
		if newStop > pos.StopLoss {
			e.raiseStop(ctx, pos, newStop)
		}
	}

	profitPct := (price/pos.AvgEntryPrice - 1) * 100
	switch {
	case !pos.TP1Done && profitPct >= 0.8*pos.TargetPct:
		e.takeProfit(ctx, pos, price, tp1Fraction, 1)
	case !pos.TP2Done && profitPct >= pos.TargetPct:
		e.takeProfit(ctx, pos, price, tp2Fraction, 2)
	case profitPct >= 1.2*pos.TargetPct:
		if e.takeProfit(ctx, pos, price, tp3Fraction, 3) {
			return
		}
	}

	if time.Since(pos.OpenedAt) > timeStopAge && profitPct < timeStopMinProfit {
		e.log.Info("time stop reached",
			"symbol", pos.Symbol,
			"age", time.Since(pos.OpenedAt),
			"profit_pct", profitPct)
		e.closePosition(ctx, pos, price, "exit_all")
	}
}

// resolveConditional advances the pending second-stage order: expiry
// after four hours, native fill polling, or soft trigger evaluation.
// Returns true when a fill was folded into the position.
func (e *Engine) resolveConditional(ctx context.Context, pos *Position, price float64) bool {
	co := pos.Conditional
	if co == nil {
		return false
	}

	if time.Since(co.PlacedAt) > conditionalMaxAge {
		if err := e.deps.Executor.CancelConditional(co); err != nil {
			e.log.Warn("conditional cancel failed", "symbol", pos.Symbol, "error", err)
		}
		e.mu.Lock()
		pos.Conditional = nil
		e.mu.Unlock()
		e.persist(ctx, pos)
		e.log.Info("second stage expired unfilled", "symbol", pos.Symbol, "trigger", co.TriggerPrice)
		return false
	}

	if !co.Soft {
		filled, res, err := e.deps.Executor.ConditionalFilled(ctx, co)
		if err != nil {
			e.log.Warn("conditional poll failed", "symbol", pos.Symbol, "error", err)
			return false
		}
		if !filled {
			return false
		}
		e.applyScaleIn(ctx, pos, res)
		return true
	}

	if price < co.TriggerPrice {
		return false
	}
	if co.Condition.RSIBelow > 0 {
		rsi, err := e.deps.Provider.RSI(pos.Symbol, 14)
		if err != nil {
			e.log.Debug("rsi unavailable for conditional", "symbol", pos.Symbol, "error", err)
			return false
		}
		if rsi >= co.Condition.RSIBelow {
			return false
		}
	}

	res, err := e.deps.Executor.ExecuteEntry(ctx, pos.Symbol, co.Size, price, co.Stage)
	if err != nil {
		if errors.Is(err, executor.ErrBelowMinNotional) {
			e.mu.Lock()
			pos.Conditional = nil
			e.mu.Unlock()
			e.persist(ctx, pos)
			e.log.Warn("second stage dropped, below min notional", "symbol", pos.Symbol)
			return false
		}
		e.log.Warn("second stage entry failed, will retry", "symbol", pos.Symbol, "error", err)
		return false
	}
	e.applyScaleIn(ctx, pos, res)
	return true
}

// applyScaleIn folds a second-stage fill into the position at the
// weighted average entry and raises the stop to protect the new basis.
func (e *Engine) applyScaleIn(ctx context.Context, pos *Position, res *executor.EntryResult) {
	e.mu.Lock()
	newSize := pos.Size + res.Size
	newAvg := (pos.AvgEntryPrice*pos.Size + res.AvgPrice*res.Size) / newSize
	pos.Size = newSize
	pos.AvgEntryPrice = newAvg
	pos.Stage = 2
	pos.Conditional = nil
	oldStop := pos.StopLoss
	if s := newAvg * initialStopRatio; s > pos.StopLoss {
		pos.StopLoss = s
	}
	newStop := pos.StopLoss
	if res.AvgPrice > pos.HighestPrice {
		pos.HighestPrice = res.AvgPrice
	}
	e.mu.Unlock()

	e.refreshStopOrder(ctx, pos)
	e.persist(ctx, pos)

	if e.deps.Bus != nil {
		e.deps.Bus.Publish(events.Event{
			Type: events.EventPositionUpdated,
			Data: map[string]interface{}{
				"symbol":    pos.Symbol,
				"stage":     2,
				"size":      newSize,
				"avg_entry": newAvg,
				"stop_loss": newStop,
			},
		})
		if newStop > oldStop {
			e.deps.Bus.PublishStopMoved(pos.Symbol, oldStop, newStop)
		}
	}
	e.log.Info("second stage filled",
		"symbol", pos.Symbol,
		"fill_price", res.AvgPrice,
		"size", newSize,
		"avg_entry", newAvg,
		"stop_loss", newStop)
}

// raiseStop lifts the stop to newStop. Stops only ever move up.
func (e *Engine) raiseStop(ctx context.Context, pos *Position, newStop float64) {
	e.mu.Lock()
	oldStop := pos.StopLoss
	pos.StopLoss = newStop
	e.mu.Unlock()

	e.refreshStopOrder(ctx, pos)
	e.persist(ctx, pos)

	if e.deps.Bus != nil {
		e.deps.Bus.PublishStopMoved(pos.Symbol, oldStop, newStop)
	}
	e.log.Info("trailing stop raised", "symbol", pos.Symbol, "old_stop", oldStop, "new_stop", newStop)
}

// refreshStopOrder re-places the native stop after a size or price
// change. On failure the stop order is dropped and soft enforcement
// takes over.
func (e *Engine) refreshStopOrder(ctx context.Context, pos *Position) {
	so := pos.StopOrder
	if so == nil {
		return
	}
	if so.Soft {
		e.mu.Lock()
		so.StopPrice = pos.StopLoss
		so.Size = pos.Size
		e.mu.Unlock()
		return
	}

	stop, err := e.deps.Executor.UpdateStopLoss(ctx, pos.Symbol, pos.StopLoss, pos.Size)
	e.mu.Lock()
	if err != nil {
		pos.StopOrder = nil
	} else {
		pos.StopOrder = stop
	}
	e.mu.Unlock()
	if err != nil {
		e.log.Warn("stop refresh failed, monitor will enforce", "symbol", pos.Symbol, "error", err)
	}
}

// takeProfit sells one ladder rung. The done flag advances only on a
// successful exit so a failed rung retries next tick; level 3 also
// drops the position. Returns true when the position was removed.
func (e *Engine) takeProfit(ctx context.Context, pos *Position, price, fraction float64, level int) bool {
	sellSize := pos.Size * fraction
	res, err := e.deps.Executor.ExecuteExit(ctx, pos.Symbol, sellSize, price, "take_profit")
	if err != nil {
		e.log.Error("take profit failed", "symbol", pos.Symbol, "level", level, "error", err)
		return false
	}

	profitPct := (res.AvgPrice/pos.AvgEntryPrice - 1) * 100
	if e.deps.Perf != nil {
		e.deps.Perf.RecordTrade(pos.Symbol, "take_profit", pos.AvgEntryPrice, res.AvgPrice, res.Size, 0)
	}
	if e.deps.Breaker != nil {
		e.deps.Breaker.RecordTrade(profitPct)
	}
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(events.Event{
			Type: events.EventTakeProfit,
			Data: map[string]interface{}{
				"symbol":     pos.Symbol,
				"level":      level,
				"price":      res.AvgPrice,
				"size":       res.Size,
				"profit_pct": profitPct,
			},
		})
	}

	if level == 3 {
		e.deps.Risk.UpdatePosition(pos.Symbol, "close", 0)
		e.removePosition(ctx, pos)
		if e.deps.Bus != nil {
			e.deps.Bus.PublishPositionClosed(pos.Symbol, "take_profit",
				pos.AvgEntryPrice, res.AvgPrice, res.Size, profitPct)
		}
		e.log.Info("take profit ladder completed",
			"symbol", pos.Symbol,
			"price", res.AvgPrice,
			"profit_pct", profitPct)
		return true
	}

	e.mu.Lock()
	pos.Size -= res.Size
	switch level {
	case 1:
		pos.TP1Done = true
	case 2:
		pos.TP2Done = true
	}
	remaining := pos.Size
	e.mu.Unlock()

	e.deps.Risk.UpdatePosition(pos.Symbol, "partial_close", fraction)
	e.refreshStopOrder(ctx, pos)
	e.persist(ctx, pos)
	e.log.Info("take profit executed",
		"symbol", pos.Symbol,
		"level", level,
		"price", res.AvgPrice,
		"sold", res.Size,
		"remaining", remaining)
	return false
}

// closePosition exits the full size and settles the position. The
// table entry survives a failed exit so the next tick retries.
func (e *Engine) closePosition(ctx context.Context, pos *Position, price float64, reason string) {
	res, err := e.deps.Executor.ExecuteExit(ctx, pos.Symbol, pos.Size, price, reason)
	if err != nil {
		e.log.Error("position close failed", "symbol", pos.Symbol, "reason", reason, "error", err)
		return
	}
	e.finishClose(ctx, pos, res, reason)
}

// finishClose settles bookkeeping for a fully closed position.
func (e *Engine) finishClose(ctx context.Context, pos *Position, res *executor.ExitResult, reason string) {
	profitPct := (res.AvgPrice/pos.AvgEntryPrice - 1) * 100

	e.deps.Risk.UpdatePosition(pos.Symbol, "close", 0)
	if e.deps.Perf != nil {
		e.deps.Perf.RecordTrade(pos.Symbol, perfAction(reason), pos.AvgEntryPrice, res.AvgPrice, res.Size, 0)
	}
	if e.deps.Breaker != nil {
		e.deps.Breaker.RecordTrade(profitPct)
	}

	e.removePosition(ctx, pos)

	if e.deps.Bus != nil {
		e.deps.Bus.PublishPositionClosed(pos.Symbol, reason,
			pos.AvgEntryPrice, res.AvgPrice, res.Size, profitPct)
	}
	e.log.Info("position closed",
		"symbol", pos.Symbol,
		"reason", reason,
		"entry", pos.AvgEntryPrice,
		"exit", res.AvgPrice,
		"profit_pct", profitPct)
}

// removePosition cancels leftover orders, drops the table entry and
// clears persisted state.
func (e *Engine) removePosition(ctx context.Context, pos *Position) {
	if err := e.deps.Executor.CancelStop(pos.StopOrder); err != nil {
		e.log.Warn("stop cancel failed", "symbol", pos.Symbol, "error", err)
	}
	if err := e.deps.Executor.CancelConditional(pos.Conditional); err != nil {
		e.log.Warn("conditional cancel failed", "symbol", pos.Symbol, "error", err)
	}
	e.mu.Lock()
	delete(e.positions, pos.Symbol)
	e.mu.Unlock()
	e.dropState(ctx, pos.Symbol)
}

// perfAction maps an exit reason onto the tracker's action vocabulary.
func perfAction(reason string) string {
	switch reason {
	case "stop_loss":
		return "stop_loss"
	case "take_profit":
		return "take_profit"
	default:
		return "exit"
	}
}
