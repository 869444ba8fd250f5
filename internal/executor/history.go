package executor

// TradingStats summarizes journaled activity. Profit figures only cover
// exits that were matched back to an entry.
type TradingStats struct {
	TotalEntries        int           `json:"total_entries"`
	TotalExits          int           `json:"total_exits"`
	TotalProfit         float64       `json:"total_profit"`
	WinCount            int           `json:"win_count"`
	LossCount           int           `json:"loss_count"`
	WinRate             float64       `json:"win_rate"`
	AvgProfitPercentage float64       `json:"avg_profit_percentage"`
	MaxProfitPercentage float64       `json:"max_profit_percentage"`
	MaxLossPercentage   float64       `json:"max_loss_percentage"`
	TotalVolume         float64       `json:"total_volume"`
	ActivePositions     []EntryRecord `json:"active_positions"`
	ActivePositionCount int           `json:"active_position_count"`
}

// TradingHistory bundles both journals with derived statistics.
type TradingHistory struct {
	EntryOrders []EntryRecord `json:"entry_orders"`
	ExitOrders  []ExitRecord  `json:"exit_orders"`
	Stats       TradingStats  `json:"stats"`
}

// ComputeStats derives realized performance from journal records. An
// entry counts as an active position until some exit references its
// order id.
func ComputeStats(entries []EntryRecord, exits []ExitRecord) TradingStats {
	stats := TradingStats{
		TotalEntries: len(entries),
		TotalExits:   len(exits),
	}

	closed := make(map[string]bool)
	var matched int
	var pctSum float64
	for _, x := range exits {
		if x.EntryOrderID == "" {
			continue
		}
		closed[x.EntryOrderID] = true
		matched++

		stats.TotalProfit += x.ProfitAmount
		stats.TotalVolume += x.Revenue
		pctSum += x.ProfitPercentage

		if x.ProfitAmount > 0 {
			stats.WinCount++
		} else {
			stats.LossCount++
		}
		if x.ProfitPercentage > stats.MaxProfitPercentage {
			stats.MaxProfitPercentage = x.ProfitPercentage
		}
		if x.ProfitPercentage < stats.MaxLossPercentage {
			stats.MaxLossPercentage = x.ProfitPercentage
		}
	}

	if matched > 0 {
		stats.WinRate = float64(stats.WinCount) / float64(matched) * 100
		stats.AvgProfitPercentage = pctSum / float64(matched)
	}

	for _, en := range entries {
		if !closed[en.OrderID] {
			stats.ActivePositions = append(stats.ActivePositions, en)
		}
	}
	stats.ActivePositionCount = len(stats.ActivePositions)
	return stats
}
