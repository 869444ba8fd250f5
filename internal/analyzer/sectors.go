package analyzer

import (
	"sort"
	"strings"
	"time"
)

const sectorSampleSize = 10

// SectorScore is one row of the sector ranking.
type SectorScore struct {
	Name         string   `json:"name"`
	AvgChange    float64  `json:"avg_change"`
	MaxChange    float64  `json:"max_change"`
	VolumeGrowth float64  `json:"volume_growth"`
	Score        float64  `json:"score"`
	Symbols      []string `json:"symbols"`
}

// RankSectors scores every configured sector from a sample of its
// symbols and returns them best first. The result is cached for an
// hour; the walk stops early when the wall-clock budgets run out and
// returns whatever finished.
func (a *Analyzer) RankSectors() []SectorScore {
	a.mu.Lock()
	if a.ranking != nil && time.Since(a.rankingAt) < a.sectorTTL {
		cached := a.ranking
		a.mu.Unlock()
		return cached
	}
	a.mu.Unlock()

	start := time.Now()
	universe := a.provider.TradableSymbols()
	sectors := a.provider.Sectors()

	names := make([]string, 0, len(sectors))
	for name := range sectors {
		names = append(names, name)
	}
	sort.Strings(names)

	var scores []SectorScore
	for _, name := range names {
		if time.Since(start) > a.SectorScanBudget {
			a.log.Warn("sector ranking budget exhausted", "completed", len(scores))
			break
		}

		score, ok := a.scoreSector(name, sectors[name], universe, start)
		if ok {
			scores = append(scores, score)
		}
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	a.mu.Lock()
	a.ranking = scores
	a.rankingAt = time.Now()
	a.mu.Unlock()

	a.log.Info("sectors ranked", "count", len(scores), "elapsed", time.Since(start).String())
	return scores
}

func (a *Analyzer) scoreSector(name string, prefixes []string, universe []string, scanStart time.Time) (SectorScore, bool) {
	sectorStart := time.Now()

	var symbols []string
	for _, sym := range universe {
		for _, prefix := range prefixes {
			if strings.HasPrefix(sym, prefix) {
				symbols = append(symbols, sym)
				break
			}
		}
		if len(symbols) >= sectorSampleSize {
			break
		}
	}
	if len(symbols) == 0 {
		return SectorScore{}, false
	}

	var (
		sumChange, maxChange float64
		sumRatio             float64
		changeCount          int
		ratioCount           int
	)
	for _, sym := range symbols {
		if time.Since(sectorStart) > a.PerSectorBudget || time.Since(scanStart) > a.SectorScanBudget {
			break
		}

		ticker, err := a.provider.GetTicker(sym)
		if err != nil {
			continue
		}
		sumChange += ticker.PercentChange
		if changeCount == 0 || ticker.PercentChange > maxChange {
			maxChange = ticker.PercentChange
		}
		changeCount++

		if ratio, err := a.provider.VolumeRatio(sym, 20); err == nil {
			sumRatio += ratio
			ratioCount++
		}
	}
	if changeCount == 0 {
		return SectorScore{}, false
	}

	avgChange := sumChange / float64(changeCount)
	volumeGrowth := 1.0
	if ratioCount > 0 {
		volumeGrowth = sumRatio / float64(ratioCount)
	}

	return SectorScore{
		Name:         name,
		AvgChange:    avgChange,
		MaxChange:    maxChange,
		VolumeGrowth: volumeGrowth,
		Score:        0.4*avgChange + 0.3*maxChange + 0.3*(volumeGrowth-1)*30,
		Symbols:      symbols,
	}, true
}

// TopSectors returns the names of the n best sectors from the current
// ranking.
func (a *Analyzer) TopSectors(n int) []string {
	ranking := a.RankSectors()
	if n > len(ranking) {
		n = len(ranking)
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = ranking[i].Name
	}
	return names
}
