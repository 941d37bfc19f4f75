package main

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"picksim/internal/config"
	"picksim/internal/store"
)

var runID string

func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List journaled batch runs, or the results of one run",
		RunE:  runResults,
	}
	cmd.Flags().StringVar(&runID, "run", "", "run ID to show (default: list runs)")
	return cmd
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is not set; nothing is journaled")
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if runID == "" {
		runs, err := st.Runs(ctx)
		if err != nil {
			return err
		}
		for _, id := range runs {
			fmt.Println(id)
		}
		return nil
	}

	entries, err := st.ListResults(ctx, runID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no results for run %s", runID)
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Date", "Symbol", "Buy", "Sell", "Return", "Day", "Exit"}),
	)
	for _, e := range entries {
		if !e.OK() {
			table.Append([]string{e.PickDate, e.Symbol, "-", "-", "-", "-", e.Failure})
			continue
		}
		table.Append([]string{
			e.PickDate,
			e.Symbol,
			fmt.Sprintf("%.4f", e.BuyPrice),
			fmt.Sprintf("%.4f", e.SellPrice),
			fmt.Sprintf("%+.2f%%", e.ReturnPct),
			fmt.Sprintf("%d", e.DaySeq),
			e.Trigger,
		})
	}
	return table.Render()
}
