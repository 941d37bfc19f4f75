package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"picksim/internal/report"
	"picksim/pkg/model"
)

var (
	symbol string
	date   string
	format string
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a single pick",
		RunE:  runSimulate,
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "ticker symbol")
	cmd.Flags().StringVar(&date, "date", "", "pick date (YYYY-MM-DD); the position is entered on the next trading day")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	pickDate, err := parsePickDate(date, a.sim.Options().Location)
	if err != nil {
		return err
	}

	ctx, span := a.tracing.Tracer().Start(ctx, "simulate")
	res := a.sim.Simulate(ctx, a.cfg.Request(symbol, pickDate))
	span.End()
	a.metrics.Observe(res)

	row := report.NewRow(model.Pick{Date: pickDate, Ticker: symbol}, res)
	switch format {
	case "json":
		if err := report.WriteJSON(os.Stdout, row); err != nil {
			return err
		}
	default:
		if err := report.WriteTable(os.Stdout, []report.Row{row}); err != nil {
			return err
		}
	}

	if !res.OK() {
		return fmt.Errorf("simulation failed: %w", res.Err())
	}
	return nil
}

func parsePickDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(model.DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}
