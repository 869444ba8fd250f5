package analyzer

import (
	"sync"
	"time"

	"momentum-trading-bot/internal/logging"
	"momentum-trading-bot/internal/market"
)

// MarketState labels the BTC-derived market regime.
type MarketState string

const (
	StrongBull MarketState = "strong_bull"
	Bull       MarketState = "bull"
	Neutral    MarketState = "neutral"
	Bear       MarketState = "bear"
	StrongBear MarketState = "strong_bear"
)

// MomentumWindow pairs a scan window with its entry thresholds.
type MomentumWindow struct {
	Minutes         int
	Threshold       float64
	StrongThreshold float64
}

const (
	referenceSymbol = "BTC/USDT"
	atrPeriod       = 14
	maPeriod        = 20

	// MarketATR falls back to a mid-volatility default when BTC data
	// is unavailable so the scan keeps a usable window.
	defaultATRPercent = 4.0
)

// Analyzer derives regime, momentum window and sector rankings from the
// reference market.
type Analyzer struct {
	provider *market.Provider
	social   SocialMomentumProvider
	log      *logging.Logger

	stateTTL  time.Duration
	sectorTTL time.Duration

	// Wall-clock budgets for the sector ranking pass.
	SectorScanBudget time.Duration
	PerSectorBudget  time.Duration

	mu          sync.Mutex
	cachedState MarketState
	stateAt     time.Time
	ranking     []SectorScore
	rankingAt   time.Time
}

// New builds an analyzer. A nil social provider disables social signals.
func New(provider *market.Provider, social SocialMomentumProvider, stateTTL time.Duration) *Analyzer {
	if social == nil {
		social = DisabledSocialProvider{}
	}
	if stateTTL <= 0 {
		stateTTL = 5 * time.Minute
	}
	return &Analyzer{
		provider:         provider,
		social:           social,
		log:              logging.WithComponent("analyzer"),
		stateTTL:         stateTTL,
		sectorTTL:        time.Hour,
		SectorScanBudget: 60 * time.Second,
		PerSectorBudget:  15 * time.Second,
	}
}

// DeriveMarketState classifies a close series against its 20-day SMA
// and 5-day change. Short series fall back to the mean of what exists
// and a zero 5-day change.
func DeriveMarketState(closes []float64) MarketState {
	if len(closes) == 0 {
		return Neutral
	}

	last := closes[len(closes)-1]

	period := maPeriod
	if len(closes) < period {
		period = len(closes)
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	ma := sum / float64(period)

	change5d := 0.0
	if len(closes) >= 6 {
		ref := closes[len(closes)-6]
		if ref > 0 {
			change5d = (last/ref - 1) * 100
		}
	}

	switch {
	case last > ma*1.05 && change5d > 5:
		return StrongBull
	case last > ma && change5d > 0:
		return Bull
	case last < ma*0.95 && change5d < -5:
		return StrongBear
	case last < ma && change5d < 0:
		return Bear
	default:
		return Neutral
	}
}

// AssessMarketState returns the cached regime, recomputing it from BTC
// daily closes when the cache has expired. Unavailable data reads as
// neutral.
func (a *Analyzer) AssessMarketState() MarketState {
	a.mu.Lock()
	if a.cachedState != "" && time.Since(a.stateAt) < a.stateTTL {
		state := a.cachedState
		a.mu.Unlock()
		return state
	}
	a.mu.Unlock()

	candles, err := a.provider.GetCandles(referenceSymbol, "1d", maPeriod)
	if err != nil {
		a.log.Warn("market state unavailable, assuming neutral", "error", err)
		return Neutral
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	state := DeriveMarketState(closes)

	a.mu.Lock()
	a.cachedState = state
	a.stateAt = time.Now()
	a.mu.Unlock()

	a.log.Info("market state assessed", "state", string(state))
	return state
}

// MarketATR returns the BTC daily ATR%, falling back to the default on
// any indicator failure.
func (a *Analyzer) MarketATR() float64 {
	atr, err := a.provider.ATRPercent(referenceSymbol, atrPeriod)
	if err != nil {
		a.log.Warn("market ATR unavailable, using default", "default", defaultATRPercent, "error", err)
		return defaultATRPercent
	}
	return atr
}

// WindowForATR maps market volatility to a scan window: turbulent
// markets use short windows with high bars, calm ones long windows with
// low bars.
func WindowForATR(atrPct float64) MomentumWindow {
	switch {
	case atrPct > 5:
		return MomentumWindow{Minutes: 5, Threshold: 3.0, StrongThreshold: 5.0}
	case atrPct >= 3:
		return MomentumWindow{Minutes: 10, Threshold: 2.0, StrongThreshold: 3.0}
	default:
		return MomentumWindow{Minutes: 15, Threshold: 1.5, StrongThreshold: 2.5}
	}
}

// DetermineMomentumWindow picks the window from the current BTC ATR and
// applies the session adjustment to its lower threshold.
func (a *Analyzer) DetermineMomentumWindow() MomentumWindow {
	w := WindowForATR(a.MarketATR())
	w.Threshold = AdjustThresholdAt(w.Threshold, time.Now())
	return w
}

// AdjustThresholdAt applies session deltas to a base threshold: +0.5
// during UTC 03:00-05:00, -0.3 on weekends.
func AdjustThresholdAt(base float64, now time.Time) float64 {
	adjusted := base
	hour := now.UTC().Hour()
	if hour >= 3 && hour < 5 {
		adjusted += 0.5
	}
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		adjusted -= 0.3
	}
	return adjusted
}

// SocialMomentum passes through to the configured social provider.
func (a *Analyzer) SocialMomentum(symbol string) (float64, error) {
	return a.social.Momentum(symbol)
}
