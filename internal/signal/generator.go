package signal

import (
	"sort"
	"sync"
	"time"

	"momentum-trading-bot/internal/logging"
	"momentum-trading-bot/internal/market"
)

const (
	batchSize = 50

	minVolumeRatio = 1.5
	maxRSI         = 75.0

	volumeRatioDays = 20
	rsiPeriod       = 14
	atrPeriod       = 14

	// Fallback ATR% when the indicator is absent; keeps the profit
	// target defined for thin histories.
	defaultATRPercent = 4.0

	maxProfitTarget = 0.10
)

// Generator runs the signal funnel across the symbol universe.
type Generator struct {
	provider *market.Provider
	log      *logging.Logger
	workers  int
}

// NewGenerator builds a generator with a bounded worker pool. workers
// below 1 means sequential scanning.
func NewGenerator(provider *market.Provider, workers int) *Generator {
	if workers < 1 {
		workers = 1
	}
	return &Generator{
		provider: provider,
		log:      logging.WithComponent("signals"),
		workers:  workers,
	}
}

// Scan evaluates every symbol against the snapshot and returns passing
// signals sorted by score descending. Symbols are processed in batches
// with progress logging; failures skip the symbol, never the scan.
func (g *Generator) Scan(symbols []string, snap Snapshot) []Signal {
	start := time.Now()
	var signals []Signal

	for offset := 0; offset < len(symbols); offset += batchSize {
		end := offset + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[offset:end]

		signals = append(signals, g.scanBatch(batch, snap)...)
		g.log.Info("scan progress",
			"scanned", end,
			"total", len(symbols),
			"signals", len(signals))
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Score > signals[j].Score
	})

	g.log.Info("scan complete",
		"symbols", len(symbols),
		"signals", len(signals),
		"elapsed", time.Since(start).String())
	return signals
}

func (g *Generator) scanBatch(batch []string, snap Snapshot) []Signal {
	if g.workers == 1 {
		var out []Signal
		for _, symbol := range batch {
			if sig, ok := g.Evaluate(symbol, snap); ok {
				out = append(out, sig)
			}
		}
		return out
	}

	symbolChan := make(chan string, len(batch))
	resultChan := make(chan Signal, len(batch))

	var wg sync.WaitGroup
	for i := 0; i < g.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range symbolChan {
				if sig, ok := g.Evaluate(symbol, snap); ok {
					resultChan <- sig
				}
			}
		}()
	}

	for _, symbol := range batch {
		symbolChan <- symbol
	}
	close(symbolChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var out []Signal
	for sig := range resultChan {
		out = append(out, sig)
	}
	return out
}

// Evaluate runs the funnel for one symbol, cheapest filter first, and
// stops at the first failure.
func (g *Generator) Evaluate(symbol string, snap Snapshot) (Signal, bool) {
	momentum, err := g.provider.Momentum(symbol, snap.Window.Minutes)
	if err != nil || momentum < snap.Threshold {
		return Signal{}, false
	}

	volumeRatio, err := g.provider.VolumeRatio(symbol, volumeRatioDays)
	if err != nil || volumeRatio < minVolumeRatio {
		return Signal{}, false
	}

	rsi, err := g.provider.RSI(symbol, rsiPeriod)
	if err != nil || rsi > maxRSI {
		return Signal{}, false
	}

	price, err := g.provider.CurrentPrice(symbol)
	if err != nil {
		return Signal{}, false
	}

	atr, err := g.provider.ATRPercent(symbol, atrPeriod)
	if err != nil {
		atr = defaultATRPercent
	}
	profitTarget := atr * 0.015
	if profitTarget > maxProfitTarget {
		profitTarget = maxProfitTarget
	}

	sector := g.provider.SectorOf(symbol)
	inTopSector := false
	for _, top := range snap.TopSectors {
		if sector == top {
			inTopSector = true
			break
		}
	}
	if !inTopSector {
		sector = ""
	}

	return Signal{
		Symbol:       symbol,
		Momentum:     momentum,
		VolumeRatio:  volumeRatio,
		RSI:          rsi,
		EntryPrice:   price,
		ATRPercent:   atr,
		ProfitTarget: profitTarget,
		Sector:       sector,
		Score:        ComputeScore(momentum, volumeRatio, rsi, inTopSector),
		MarketState:  snap.State,
		Timestamp:    time.Now(),
	}, true
}

// ComputeScore combines the funnel inputs into the 0-90 score.
func ComputeScore(momentum, volumeRatio, rsi float64, inTopSector bool) float64 {
	score := momentum / 10 * 40
	if score > 40 {
		score = 40
	}

	volumeScore := (volumeRatio - 1) * 12.5
	if volumeScore > 25 {
		volumeScore = 25
	}
	score += volumeScore

	if inTopSector {
		score += 15
	}

	switch {
	case rsi >= 40 && rsi <= 60:
		score += 10
	case (rsi >= 30 && rsi < 40) || (rsi > 60 && rsi <= 70):
		score += 5
	}

	return score
}
