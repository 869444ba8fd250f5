// Package api serves the operator dashboard: a read-only JSON view of
// the engine plus a websocket event stream. It never places or cancels
// orders.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"momentum-trading-bot/internal/analyzer"
	"momentum-trading-bot/internal/circuit"
	"momentum-trading-bot/internal/database"
	"momentum-trading-bot/internal/engine"
	"momentum-trading-bot/internal/events"
	"momentum-trading-bot/internal/executor"
	"momentum-trading-bot/internal/perf"
	"momentum-trading-bot/internal/signal"
)

// Config holds the HTTP server settings. Auth switches on when both
// AuthTokenHash and JWTSecret are set.
type Config struct {
	Host          string
	Port          int
	AuthTokenHash string // bcrypt hash of the operator token
	JWTSecret     string
	CORSOrigins   []string
	Production    bool
}

// EngineAPI is the read surface the engine exposes to the dashboard.
type EngineAPI interface {
	Running() bool
	Positions() []engine.Position
	PositionCount() int
	RecentSignals() []signal.Signal
	LastScanTime() time.Time
	TaskStats() map[string]engine.TaskTiming
}

// Deps collects the server's collaborators. Engine and Executor are
// required; nil optionals switch the matching endpoint section off.
type Deps struct {
	Engine   EngineAPI
	Executor *executor.Executor
	Perf     *perf.Tracker
	Analyzer *analyzer.Analyzer
	Breaker  *circuit.Breaker
	Repo     *database.Repository // history served from Postgres when set
	Bus      *events.EventBus
}

// RateLimiter is a fixed-window in-memory limiter keyed by endpoint.
// Several read endpoints reach through to the exchange, so the API must
// not become a request amplifier.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window
// for each key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether another request for key fits in the window.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	windowStart := time.Now().Add(-r.window)
	recent := r.requests[key][:0]
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, time.Now())
	return true
}

// Server is the HTTP API server.
type Server struct {
	cfg         Config
	deps        Deps
	router      *gin.Engine
	httpServer  *http.Server
	hub         *WSHub
	rateLimiter *RateLimiter
	authEnabled bool
	startedAt   time.Time
	logger      zerolog.Logger
}

// NewServer wires the routes and the websocket hub. The hub goroutine
// starts immediately so events published before Start are not lost.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:         cfg,
		deps:        deps,
		router:      router,
		rateLimiter: NewRateLimiter(120, time.Minute),
		authEnabled: cfg.AuthTokenHash != "" && cfg.JWTSecret != "",
		startedAt:   time.Now(),
		logger:      logger.With().Str("component", "api").Logger(),
	}

	s.hub = NewWSHub(s.logger)
	go s.hub.Run()
	if deps.Bus != nil {
		deps.Bus.SubscribeAll(func(event events.Event) {
			s.hub.BroadcastEvent(event)
		})
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)
	s.router.POST("/api/login", s.handleLogin)

	api := s.router.Group("/api")
	if s.authEnabled {
		api.Use(s.authMiddleware())
	}
	api.Use(s.rateLimitMiddleware())
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handleGetPositions)
		api.GET("/signals", s.handleGetSignals)
		api.GET("/history", s.handleGetHistory)
		api.GET("/performance", s.handleGetPerformance)
		api.GET("/sectors", s.handleGetSectors)
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "rate limit exceeded for this endpoint",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Bool("auth", s.authEnabled).Msg("api server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports process liveness and, when the archive is
// configured, database reachability.
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).String(),
	}
	if s.deps.Repo != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Repo.HealthCheck(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "healthy"
	}
	c.JSON(http.StatusOK, resp)
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
