package risk

import (
	"sync"
	"time"

	"momentum-trading-bot/internal/analyzer"
	"momentum-trading-bot/internal/logging"
	"momentum-trading-bot/internal/market"
	"momentum-trading-bot/internal/signal"
)

const (
	// Sizing assumes an implicit 2% stop distance.
	impliedStopPct = 0.02

	marketATRLimit = 7.0
	bearMinScore   = 70.0

	blacklistDrawdownLimit = 25.0      // 7-day max drawdown percent
	blacklistVolumeFloor   = 1_000_000 // 30-day dollar volume

	blacklistBatchSize = 20
	blacklistMaxBatch  = 5
)

// Config holds the risk caps and the sizing base.
type Config struct {
	MaxRiskPerTrade     float64 // percent of balance committed per trade
	MaxTotalRisk        float64 // percent cap across all open positions
	MaxSectorAllocation float64 // fraction of MaxTotalRisk one sector may hold
	AccountBalance      float64
}

// positionRisk records what one open position contributes to the
// exposure counters, so closes debit exactly what the open credited.
type positionRisk struct {
	Sector  string
	RiskPct float64
}

// Manager tracks exposure, applies the entry gates and owns the
// symbol blacklist.
type Manager struct {
	provider *market.Provider
	config   Config
	log      *logging.Logger

	// Wall-clock controls for blacklist rebuilds.
	RebuildBudget time.Duration
	BatchPause    time.Duration

	mu               sync.RWMutex
	blacklist        map[string]struct{}
	positions        map[string]*positionRisk
	totalRiskPct     float64
	sectorAllocation map[string]float64
	accountBalance   float64
}

// NewManager builds a risk manager with empty exposure state.
func NewManager(provider *market.Provider, config Config) *Manager {
	return &Manager{
		provider:         provider,
		config:           config,
		log:              logging.WithComponent("risk"),
		RebuildBudget:    120 * time.Second,
		BatchPause:       time.Second,
		blacklist:        make(map[string]struct{}),
		positions:        make(map[string]*positionRisk),
		sectorAllocation: make(map[string]float64),
		accountBalance:   config.AccountBalance,
	}
}

// SetAccountBalance replaces the sizing base.
func (m *Manager) SetAccountBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountBalance = balance
}

// AccountBalance returns the current sizing base.
func (m *Manager) AccountBalance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountBalance
}

// CheckMarketRisk reports whether new entries are allowed at all. A BTC
// ATR above 7% closes the door; indicator failures leave it open.
func (m *Manager) CheckMarketRisk() bool {
	atr, err := m.provider.ATRPercent("BTC/USDT", 14)
	if err != nil {
		m.log.Warn("market risk check skipped, no ATR", "error", err)
		return true
	}
	if atr > marketATRLimit {
		m.log.Warn("market too volatile for entries", "atr_pct", atr)
		return false
	}
	return true
}

// FilterSignals drops blacklisted, overbought and already-held symbols.
func (m *Manager) FilterSignals(signals []signal.Signal) []signal.Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]signal.Signal, 0, len(signals))
	for _, sig := range signals {
		if _, listed := m.blacklist[sig.Symbol]; listed {
			continue
		}
		if sig.RSI > 75 {
			continue
		}
		if _, held := m.positions[sig.Symbol]; held {
			continue
		}
		out = append(out, sig)
	}
	return out
}

// RankSignals preserves the generator's score ordering. It exists as
// the seam for future reweighting.
func (m *Manager) RankSignals(signals []signal.Signal) []signal.Signal {
	return signals
}

// CanOpenPosition applies the exposure gates to one signal.
func (m *Manager) CanOpenPosition(sig signal.Signal) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.totalRiskPct+m.config.MaxRiskPerTrade > m.config.MaxTotalRisk {
		return false, "total risk cap reached"
	}

	if sig.Sector != "" {
		sectorCap := m.config.MaxSectorAllocation * m.config.MaxTotalRisk
		if m.sectorAllocation[sig.Sector]+m.config.MaxRiskPerTrade > sectorCap {
			return false, "sector allocation cap reached"
		}
	}

	if (sig.MarketState == analyzer.Bear || sig.MarketState == analyzer.StrongBear) && sig.Score < bearMinScore {
		return false, "score too low for a bear market"
	}

	return true, ""
}

func regimeMultiplier(state analyzer.MarketState) float64 {
	switch state {
	case analyzer.StrongBull:
		return 1.2
	case analyzer.Bear:
		return 0.7
	case analyzer.StrongBear:
		return 0.5
	default:
		return 1.0
	}
}

// CalculatePositionSize converts a signal into a base-asset size and
// books the position against the exposure counters.
func (m *Manager) CalculatePositionSize(sig signal.Signal) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sig.EntryPrice <= 0 || m.accountBalance <= 0 {
		return 0
	}

	riskAmount := m.accountBalance * (m.config.MaxRiskPerTrade / 100)

	scoreFactor := sig.Score / 60
	if scoreFactor > 1 {
		scoreFactor = 1
	}
	riskAmount *= scoreFactor
	riskAmount *= regimeMultiplier(sig.MarketState)

	notional := riskAmount / impliedStopPct
	size := notional / sig.EntryPrice

	m.totalRiskPct += m.config.MaxRiskPerTrade
	if sig.Sector != "" {
		m.sectorAllocation[sig.Sector] += m.config.MaxRiskPerTrade
	}
	m.positions[sig.Symbol] = &positionRisk{
		Sector:  sig.Sector,
		RiskPct: m.config.MaxRiskPerTrade,
	}

	m.log.Info("position sized",
		"symbol", sig.Symbol,
		"size", size,
		"notional", notional,
		"score_factor", scoreFactor,
		"total_risk_pct", m.totalRiskPct)
	return size
}

// BookPosition records an already-open position against the exposure
// counters without sizing it. Used when positions are restored from the
// state store after a restart.
func (m *Manager) BookPosition(symbol, sector string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.positions[symbol]; held {
		return
	}

	m.totalRiskPct += m.config.MaxRiskPerTrade
	if sector != "" {
		m.sectorAllocation[sector] += m.config.MaxRiskPerTrade
	}
	m.positions[symbol] = &positionRisk{
		Sector:  sector,
		RiskPct: m.config.MaxRiskPerTrade,
	}
}

// UpdatePosition adjusts the exposure counters for an exit. A close
// debits exactly what the position booked at open; a partial close
// debits proportionally to the closed fraction.
func (m *Manager) UpdatePosition(symbol, action string, closedFraction float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return
	}

	switch action {
	case "close":
		m.debit(pos.Sector, pos.RiskPct)
		delete(m.positions, symbol)
	case "partial_close":
		if closedFraction <= 0 {
			return
		}
		if closedFraction > 1 {
			closedFraction = 1
		}
		amount := pos.RiskPct * closedFraction
		pos.RiskPct -= amount
		m.debit(pos.Sector, amount)
		if pos.RiskPct <= 0 {
			delete(m.positions, symbol)
		}
	}
}

func (m *Manager) debit(sector string, amount float64) {
	m.totalRiskPct -= amount
	if m.totalRiskPct < 0 {
		m.totalRiskPct = 0
	}
	if sector != "" {
		m.sectorAllocation[sector] -= amount
		if m.sectorAllocation[sector] <= 0 {
			delete(m.sectorAllocation, sector)
		}
	}
}

// TotalRiskPct returns the committed risk across open positions.
func (m *Manager) TotalRiskPct() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRiskPct
}

// SectorAllocations returns a copy of the per-sector exposure.
func (m *Manager) SectorAllocations() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.sectorAllocation))
	for k, v := range m.sectorAllocation {
		out[k] = v
	}
	return out
}

// HeldSymbols returns the symbols currently booked against the caps.
func (m *Manager) HeldSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.positions))
	for sym := range m.positions {
		out = append(out, sym)
	}
	return out
}

// IsBlacklisted reports whether a symbol is barred from entries.
func (m *Manager) IsBlacklisted(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blacklist[symbol]
	return ok
}

// Blacklist returns a copy of the current blacklist.
func (m *Manager) Blacklist() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.blacklist))
	for sym := range m.blacklist {
		out = append(out, sym)
	}
	return out
}

// RebuildBlacklist walks the universe in batches and swaps in a fresh
// blacklist. A symbol is listed when its 7-day drawdown exceeds 25% or
// its 30-day dollar volume is under $1M; indicator failures leave the
// symbol unlisted. The walk stops at the batch cap or the wall-clock
// budget, whichever comes first.
func (m *Manager) RebuildBlacklist(universe []string) int {
	start := time.Now()
	fresh := make(map[string]struct{})

	batches := 0
	for offset := 0; offset < len(universe) && batches < blacklistMaxBatch; offset += blacklistBatchSize {
		if time.Since(start) > m.RebuildBudget {
			m.log.Warn("blacklist rebuild budget exhausted", "checked", offset)
			break
		}

		end := offset + blacklistBatchSize
		if end > len(universe) {
			end = len(universe)
		}

		for _, symbol := range universe[offset:end] {
			if m.shouldBlacklist(symbol) {
				fresh[symbol] = struct{}{}
			}
		}

		batches++
		if end < len(universe) && batches < blacklistMaxBatch {
			time.Sleep(m.BatchPause)
		}
	}

	m.mu.Lock()
	m.blacklist = fresh
	m.mu.Unlock()

	m.log.Info("blacklist rebuilt",
		"listed", len(fresh),
		"batches", batches,
		"elapsed", time.Since(start).String())
	return len(fresh)
}

func (m *Manager) shouldBlacklist(symbol string) bool {
	if dd, err := m.provider.MaxDrawdown(symbol, 7); err == nil && dd > blacklistDrawdownLimit {
		m.log.Debug("blacklisting on drawdown", "symbol", symbol, "drawdown_pct", dd)
		return true
	}
	if vol, err := m.provider.TradingVolumeUSD(symbol, 30); err == nil && vol < blacklistVolumeFloor {
		m.log.Debug("blacklisting on volume", "symbol", symbol, "volume_usd", vol)
		return true
	}
	return false
}
