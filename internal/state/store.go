// Package state persists open position state in Redis so a restart can
// resume monitoring without re-reading the exchange. When Redis is
// unavailable it falls back to an in-memory cache so trading continues
// uninterrupted.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	positionKeyPrefix = "momentum:position"
	positionListKey   = "momentum:positions:list"

	// Positions close within hours, the week of slack covers outages.
	positionTTL = 7 * 24 * time.Hour
)

// ConditionalOrder mirrors the pending second-stage order attached to a
// position. Kept separate from the executor types to avoid an import
// cycle.
type ConditionalOrder struct {
	OrderID      string    `json:"order_id,omitempty"`
	TriggerPrice float64   `json:"trigger_price"`
	LimitPrice   float64   `json:"limit_price"`
	Size         float64   `json:"size"`
	Stage        string    `json:"stage"`
	RSIBelow     float64   `json:"rsi_below,omitempty"`
	Soft         bool      `json:"soft"`
	PlacedAt     time.Time `json:"placed_at"`
}

// Position is the durable subset of an open position.
type Position struct {
	Symbol        string            `json:"symbol"`
	Size          float64           `json:"size"`
	AvgEntryPrice float64           `json:"avg_entry_price"`
	StopLoss      float64           `json:"stop_loss"`
	TargetPct     float64           `json:"target_pct"`
	Stage         int               `json:"stage"`
	Sector        string            `json:"sector,omitempty"`
	OpenedAt      time.Time         `json:"opened_at"`
	HighestPrice  float64           `json:"highest_price,omitempty"`
	TP1Done       bool              `json:"tp1_done,omitempty"`
	TP2Done       bool              `json:"tp2_done,omitempty"`
	StopOrderID   string            `json:"stop_order_id,omitempty"`
	StopSoft      bool              `json:"stop_soft,omitempty"`
	Conditional   *ConditionalOrder `json:"conditional,omitempty"`
	SavedAt       time.Time         `json:"saved_at"`
}

// Store writes position state to Redis, shadowed by an in-memory cache
// that serves reads and writes whenever Redis is down. A nil client
// runs the store in memory-only mode.
type Store struct {
	client    *redis.Client
	logger    zerolog.Logger
	available atomic.Bool

	mu    sync.RWMutex
	cache map[string]*Position
}

// NewStore probes the client once and starts in the matching mode.
func NewStore(client *redis.Client, logger zerolog.Logger) *Store {
	s := &Store{
		client: client,
		logger: logger.With().Str("component", "state").Logger(),
		cache:  make(map[string]*Position),
	}
	if client == nil {
		s.logger.Info().Msg("no redis client, position state held in memory only")
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("redis unavailable at startup, using in-memory cache")
	} else {
		s.available.Store(true)
		s.logger.Info().Msg("redis position store connected")
	}
	return s
}

// Available reports whether Redis is currently reachable.
func (s *Store) Available() bool { return s.available.Load() }

func positionKey(symbol string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, symbol)
}

// Save persists one position. The in-memory cache is always updated;
// Redis errors degrade the store rather than failing the caller.
func (s *Store) Save(ctx context.Context, pos *Position) error {
	if pos == nil {
		return errors.New("cannot save nil position")
	}
	pos.SavedAt = time.Now()

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}

	s.putCache(pos)

	if s.client == nil || !s.available.Load() {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, positionKey(pos.Symbol), data, positionTTL)
	pipe.SAdd(ctx, positionListKey, pos.Symbol)
	pipe.Expire(ctx, positionListKey, positionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("redis save failed, cache only")
		s.available.Store(false)
	}
	return nil
}

// Load returns the stored position for symbol, or nil when none exists.
func (s *Store) Load(ctx context.Context, symbol string) (*Position, error) {
	if s.client == nil || !s.available.Load() {
		return s.getCache(symbol), nil
	}

	data, err := s.client.Get(ctx, positionKey(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.getCache(symbol), nil
		}
		s.logger.Warn().Err(err).Msg("redis read failed, using cache")
		s.available.Store(false)
		return s.getCache(symbol), nil
	}

	var pos Position
	if err := json.Unmarshal([]byte(data), &pos); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", symbol, err)
	}
	s.putCache(&pos)
	return &pos, nil
}

// LoadAll returns every stored position keyed by symbol.
func (s *Store) LoadAll(ctx context.Context) (map[string]*Position, error) {
	if s.client == nil || !s.available.Load() {
		return s.allCache(), nil
	}

	symbols, err := s.client.SMembers(ctx, positionListKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("redis read failed, using cache")
			s.available.Store(false)
		}
		return s.allCache(), nil
	}

	positions := make(map[string]*Position, len(symbols))
	for _, symbol := range symbols {
		pos, err := s.Load(ctx, symbol)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("skipping unreadable position")
			continue
		}
		if pos != nil {
			positions[symbol] = pos
		}
	}
	if len(positions) > 0 {
		s.logger.Info().Int("count", len(positions)).Msg("positions restored")
	}
	return positions, nil
}

// Delete removes a closed position from the store.
func (s *Store) Delete(ctx context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.cache, symbol)
	s.mu.Unlock()

	if s.client == nil || !s.available.Load() {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, positionKey(symbol))
	pipe.SRem(ctx, positionListKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("redis delete failed")
		s.available.Store(false)
	}
	return nil
}

// HealthCheck pings Redis and, when the connection has just recovered,
// pushes the in-memory cache back out so nothing is lost.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return errors.New("no redis client configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.available.Store(false)
		return fmt.Errorf("redis ping: %w", err)
	}

	recovered := !s.available.Load()
	s.available.Store(true)
	if recovered {
		s.logger.Info().Msg("redis connection recovered, syncing cache")
		s.syncCache(ctx)
	}
	return nil
}

func (s *Store) syncCache(ctx context.Context) {
	s.mu.RLock()
	positions := make([]*Position, 0, len(s.cache))
	for _, pos := range s.cache {
		cp := *pos
		positions = append(positions, &cp)
	}
	s.mu.RUnlock()

	for _, pos := range positions {
		data, err := json.Marshal(pos)
		if err != nil {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, positionKey(pos.Symbol), data, positionTTL)
		pipe.SAdd(ctx, positionListKey, pos.Symbol)
		pipe.Expire(ctx, positionListKey, positionTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("cache sync failed")
			return
		}
	}
}

func (s *Store) putCache(pos *Position) {
	cp := *pos
	s.mu.Lock()
	s.cache[pos.Symbol] = &cp
	s.mu.Unlock()
}

func (s *Store) getCache(symbol string) *Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos, ok := s.cache[symbol]; ok {
		cp := *pos
		return &cp
	}
	return nil
}

func (s *Store) allCache() map[string]*Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Position, len(s.cache))
	for symbol, pos := range s.cache {
		cp := *pos
		out[symbol] = &cp
	}
	return out
}
