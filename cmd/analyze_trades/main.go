// Command analyze-trades summarizes the entry and exit journals: the
// operator-facing counterpart of the /api/history endpoint.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"momentum-trading-bot/internal/executor"
)

var (
	flagLogDir string
	flagSymbol string
	flagStart  string
	flagEnd    string
)

func main() {
	root := &cobra.Command{
		Use:          "analyze-trades",
		Short:        "Summarize the trade journals per symbol and in aggregate",
		RunE:         run,
		SilenceUsage: true,
	}
	root.Flags().StringVar(&flagLogDir, "log-dir", "logs", "journal directory")
	root.Flags().StringVar(&flagSymbol, "symbol", "", "restrict the report to one symbol")
	root.Flags().StringVar(&flagStart, "start", "", "ignore trades before this time (RFC 3339 or YYYY-MM-DD)")
	root.Flags().StringVar(&flagEnd, "end", "", "ignore trades after this time (RFC 3339 or YYYY-MM-DD)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	filter := executor.Filter{Symbol: flagSymbol}
	var err error
	if filter.Start, err = parseTime(flagStart); err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	if filter.End, err = parseTime(flagEnd); err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	if _, err := os.Stat(flagLogDir); err != nil {
		return fmt.Errorf("no journals under %s: %w", flagLogDir, err)
	}

	// Corrupt journal warnings go to stderr so the report stays clean.
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	journal, err := executor.NewJournal(flagLogDir, logger)
	if err != nil {
		return err
	}
	entries, err := journal.Entries(filter)
	if err != nil {
		return err
	}
	exits, err := journal.Exits(filter)
	if err != nil {
		return err
	}
	if len(entries) == 0 && len(exits) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no trades recorded")
		return nil
	}

	out := cmd.OutOrStdout()
	total := executor.ComputeStats(entries, exits)

	fmt.Fprintf(out, "Journal: %s\n", flagLogDir)
	fmt.Fprintf(out, "Entries: %d  Exits: %d  Open: %d\n",
		total.TotalEntries, total.TotalExits, total.ActivePositionCount)
	fmt.Fprintf(out, "Closed trades: %d wins / %d losses (win rate %.1f%%)\n",
		total.WinCount, total.LossCount, total.WinRate)
	fmt.Fprintf(out, "Realized profit: %.2f on %.2f volume\n", total.TotalProfit, total.TotalVolume)
	fmt.Fprintf(out, "Profit per trade: avg %+.2f%%  best %+.2f%%  worst %+.2f%%\n\n",
		total.AvgProfitPercentage, total.MaxProfitPercentage, total.MaxLossPercentage)

	printSymbolTable(out, entries, exits)

	if len(total.ActivePositions) > 0 {
		fmt.Fprintf(out, "\nOpen positions:\n")
		for _, pos := range total.ActivePositions {
			fmt.Fprintf(out, "  %-12s size %.6f @ %.6f  stage %s  opened %s\n",
				pos.Symbol, pos.Size, pos.AvgPrice, pos.Stage,
				pos.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// printSymbolTable recomputes the aggregate stats per symbol, sorted by
// realized profit.
func printSymbolTable(out io.Writer, entries []executor.EntryRecord, exits []executor.ExitRecord) {
	entriesBySymbol := make(map[string][]executor.EntryRecord)
	for _, en := range entries {
		entriesBySymbol[en.Symbol] = append(entriesBySymbol[en.Symbol], en)
	}
	exitsBySymbol := make(map[string][]executor.ExitRecord)
	for _, x := range exits {
		exitsBySymbol[x.Symbol] = append(exitsBySymbol[x.Symbol], x)
	}

	symbols := make([]string, 0, len(entriesBySymbol))
	for sym := range entriesBySymbol {
		symbols = append(symbols, sym)
	}
	for sym := range exitsBySymbol {
		if _, seen := entriesBySymbol[sym]; !seen {
			symbols = append(symbols, sym)
		}
	}

	type row struct {
		symbol string
		stats  executor.TradingStats
	}
	rows := make([]row, 0, len(symbols))
	for _, sym := range symbols {
		rows = append(rows, row{
			symbol: sym,
			stats:  executor.ComputeStats(entriesBySymbol[sym], exitsBySymbol[sym]),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].stats.TotalProfit != rows[j].stats.TotalProfit {
			return rows[i].stats.TotalProfit > rows[j].stats.TotalProfit
		}
		return rows[i].symbol < rows[j].symbol
	})

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tTRADES\tWINS\tLOSSES\tOPEN\tPROFIT\tAVG %\tWIN RATE")
	for _, r := range rows {
		s := r.stats
		closedTrades := s.WinCount + s.LossCount
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%+.2f\t%+.2f%%\t%.1f%%\n",
			r.symbol, closedTrades, s.WinCount, s.LossCount,
			s.ActivePositionCount, s.TotalProfit, s.AvgProfitPercentage, s.WinRate)
	}
	w.Flush()
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
