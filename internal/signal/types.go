package signal

import (
	"time"

	"momentum-trading-bot/internal/analyzer"
)

// Signal is one momentum entry candidate produced by a scan.
type Signal struct {
	Symbol       string                `json:"symbol"`
	Momentum     float64               `json:"momentum"`
	VolumeRatio  float64               `json:"volume_ratio"`
	RSI          float64               `json:"rsi"`
	EntryPrice   float64               `json:"entry_price"`
	ATRPercent   float64               `json:"atr_percent"`
	ProfitTarget float64               `json:"profit_target"`
	Sector       string                `json:"sector,omitempty"`
	Score        float64               `json:"score"`
	MarketState  analyzer.MarketState  `json:"market_state"`
	Timestamp    time.Time             `json:"timestamp"`
}

// Snapshot freezes the scan-time market context so every symbol in one
// scan is judged against the same regime.
type Snapshot struct {
	State      analyzer.MarketState
	TopSectors []string
	Window     analyzer.MomentumWindow
	Threshold  float64
}
