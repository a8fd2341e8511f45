package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"archi/internal/budget"
	"archi/internal/logging"
)

func newBudgetCmd() *cobra.Command {
	var period string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show recorded spend against the hard stops",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := loadConfig()
			ledger := budget.NewLedger(cfg.Budget, cfg.DataDir, logging.NewComponentLogger("Budget"))
			limit := cfg.Budget.DailyHardStopUSD
			if period == "month" {
				limit = cfg.Budget.MonthlyHardStopUSD
			} else if period != "today" {
				limit = 0
			}
			printSummary(ledger.GetSummary(period), limit)
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "today", "today, month, or all")
	return cmd
}

func printSummary(s budget.Summary, limit float64) {
	fmt.Printf("%s %s\n", bold("period:"), s.Period)
	fmt.Printf("%s $%.4f", bold("spend:"), s.TotalCost)
	if limit > 0 {
		pct := s.TotalCost / limit * 100
		level := green
		switch {
		case pct >= 100:
			level = red
		case pct >= 80:
			level = yellow
		}
		fmt.Printf(" / $%.2f %s", limit, level(fmt.Sprintf("(%.0f%%)", pct)))
	}
	fmt.Println()
	fmt.Printf("%s %d\n", bold("calls:"), s.TotalCalls)

	if len(s.ByModel) == 0 {
		return
	}
	keys := make([]string, 0, len(s.ByModel))
	for k := range s.ByModel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		u := s.ByModel[k]
		fmt.Printf("  %s %s $%.4f (%d in / %d out tokens)\n",
			gray("-"), k, u.CostUSD, u.InputTokens, u.OutputTokens)
	}
}
