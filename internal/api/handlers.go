package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"momentum-trading-bot/internal/executor"
)

// handleStatus summarizes the engine in one payload: run state, scan
// recency, open exposure, breaker state and task timings.
func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"running":        s.deps.Engine.Running(),
		"position_count": s.deps.Engine.PositionCount(),
		"last_scan":      s.deps.Engine.LastScanTime(),
		"uptime":         time.Since(s.startedAt).String(),
		"ws_clients":     s.hub.ClientCount(),
		"tasks":          s.deps.Engine.TaskStats(),
	}
	if s.deps.Analyzer != nil {
		status["market_state"] = s.deps.Analyzer.AssessMarketState()
	}
	if s.deps.Breaker != nil {
		status["circuit_breaker"] = s.deps.Breaker.Stats()
	}
	successResponse(c, status)
}

func (s *Server) handleGetPositions(c *gin.Context) {
	successResponse(c, s.deps.Engine.Positions())
}

func (s *Server) handleGetSignals(c *gin.Context) {
	successResponse(c, s.deps.Engine.RecentSignals())
}

// handleGetHistory returns journal history filtered by ?symbol, ?start
// and ?end (RFC 3339). It reads the Postgres archive when one is
// configured, otherwise the on-disk journals.
func (s *Server) handleGetHistory(c *gin.Context) {
	filter := executor.Filter{Symbol: c.Query("symbol")}

	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "start must be RFC 3339")
			return
		}
		filter.Start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "end must be RFC 3339")
			return
		}
		filter.End = t
	}

	if s.deps.Repo != nil {
		hist, err := s.deps.Repo.History(c.Request.Context(), filter)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, "archive query failed")
			return
		}
		successResponse(c, hist)
		return
	}

	hist, err := s.deps.Executor.TradingHistory(filter)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "journal read failed")
		return
	}
	successResponse(c, hist)
}

// handleGetPerformance returns realized metrics plus the most recent
// trades (?limit, default 20).
func (s *Server) handleGetPerformance(c *gin.Context) {
	if s.deps.Perf == nil {
		errorResponse(c, http.StatusNotFound, "performance tracking disabled")
		return
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	successResponse(c, gin.H{
		"metrics":       s.deps.Perf.CalculateMetrics(),
		"recent_trades": s.deps.Perf.RecentTrades(limit),
	})
}

func (s *Server) handleGetSectors(c *gin.Context) {
	if s.deps.Analyzer == nil {
		errorResponse(c, http.StatusNotFound, "sector analysis disabled")
		return
	}
	successResponse(c, s.deps.Analyzer.RankSectors())
}
