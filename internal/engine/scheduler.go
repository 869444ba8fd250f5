package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"momentum-trading-bot/internal/events"
)

// slowJobThreshold flags task runs that exceed their expected budget.
const slowJobThreshold = 30 * time.Second

// taskStats accumulates wall-clock timings for one named task.
type taskStats struct {
	count int64
	total time.Duration
	max   time.Duration
}

// TaskTiming is the exported snapshot of one task's timings.
type TaskTiming struct {
	Count   int64         `json:"count"`
	Total   time.Duration `json:"total"`
	Max     time.Duration `json:"max"`
	Average time.Duration `json:"average"`
}

// setupSchedule registers the periodic jobs. Overlapping runs of the
// same job are skipped rather than queued.
func (e *Engine) setupSchedule() error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	jobs := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{fmt.Sprintf("@every %s", e.cfg.ScanInterval), "market_scan", e.ScanMarket},
		{"@hourly", "sector_ranking", e.RefreshSectors},
		{"@daily", "blacklist_refresh", e.RefreshBlacklist},
		{"@daily", "daily_report", e.writeDailyReport},
	}
	for _, job := range jobs {
		name, fn := job.name, job.fn
		if _, err := c.AddFunc(job.spec, func() { e.runJob(name, fn) }); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	e.cron = c
	return nil
}

// runJob wraps one scheduled run with panic recovery and timing.
func (e *Engine) runJob(name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("job panicked", "job", name, "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	err := fn(e.ctx)
	e.trackTask(name, time.Since(start))
	if err != nil {
		e.log.Error("job failed", "job", name, "error", err)
		if e.deps.Bus != nil {
			e.deps.Bus.PublishError("engine", name, err)
		}
	}
}

// trackTask folds one run into the timing stats and flags slow runs.
func (e *Engine) trackTask(name string, elapsed time.Duration) {
	e.tasksMu.Lock()
	st, ok := e.tasks[name]
	if !ok {
		st = &taskStats{}
		e.tasks[name] = st
	}
	st.count++
	st.total += elapsed
	if elapsed > st.max {
		st.max = elapsed
	}
	e.tasksMu.Unlock()

	if elapsed > slowJobThreshold {
		e.log.Warn("slow task", "task", name, "elapsed", elapsed)
	}
}

// TaskStats returns a snapshot of all task timings.
func (e *Engine) TaskStats() map[string]TaskTiming {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	out := make(map[string]TaskTiming, len(e.tasks))
	for name, st := range e.tasks {
		t := TaskTiming{Count: st.count, Total: st.total, Max: st.max}
		if st.count > 0 {
			t.Average = st.total / time.Duration(st.count)
		}
		out[name] = t
	}
	return out
}

// logTaskSummary prints one line per task, slowest average first.
func (e *Engine) logTaskSummary() {
	stats := e.TaskStats()
	if len(stats) == 0 {
		return
	}
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return stats[names[i]].Average > stats[names[j]].Average
	})
	for _, name := range names {
		t := stats[name]
		e.log.Info("task timing",
			"task", name,
			"runs", t.Count,
			"total", t.Total,
			"avg", t.Average,
			"max", t.Max)
	}
}

// RefreshSectors recomputes the sector ranking.
func (e *Engine) RefreshSectors(ctx context.Context) error {
	if e.cfg.SkipSectors {
		return nil
	}
	scores := e.deps.Analyzer.RankSectors()
	top := make([]string, 0, topSectorCount)
	for i, s := range scores {
		if i == topSectorCount {
			break
		}
		top = append(top, s.Name)
	}
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(events.Event{
			Type: events.EventSectorsUpdated,
			Data: map[string]interface{}{"ranked": len(scores), "top": top},
		})
	}
	e.log.Info("sector ranking refreshed", "ranked", len(scores), "top", top)
	return nil
}

// RefreshBlacklist rebuilds the symbol blacklist from the tradable
// universe.
func (e *Engine) RefreshBlacklist(ctx context.Context) error {
	if e.cfg.SkipBlacklist {
		return nil
	}
	universe := e.deps.Provider.TradableSymbols()
	listed := e.deps.Risk.RebuildBlacklist(universe)
	if e.deps.Bus != nil {
		e.deps.Bus.PublishBlacklistUpdated(listed)
	}
	e.log.Info("blacklist refreshed", "listed", listed, "universe", len(universe))
	return nil
}

// writeDailyReport persists the tracker's end-of-day report.
func (e *Engine) writeDailyReport(ctx context.Context) error {
	if e.deps.Perf == nil {
		return nil
	}
	report, err := e.deps.Perf.DailyReport()
	if err != nil {
		return fmt.Errorf("daily report: %w", err)
	}
	if report == nil {
		e.log.Info("no trades today, daily report skipped")
		return nil
	}
	e.log.Info("daily report written",
		"date", report.Date,
		"trades", report.DailyMetrics.Trades,
		"win_rate", report.DailyMetrics.WinRate,
		"net_profit", report.DailyMetrics.NetProfit)
	return nil
}
