package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"picksim/internal/report"
	"picksim/internal/simulator"
)

var rawBars bool

func newBarsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bars",
		Short: "Print the tradable path a simulation would see",
		RunE:  runBars,
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "ticker symbol")
	cmd.Flags().StringVar(&date, "date", "", "pick date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&rawBars, "raw", false, "print the loaded bars before trimming")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func runBars(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	opts := a.sim.Options()
	pickDate, err := parsePickDate(date, opts.Location)
	if err != nil {
		return err
	}

	req := a.cfg.Request(symbol, pickDate)
	q := req.Query(opts)
	bars, err := a.loader.GetBars(ctx, q)
	if err != nil {
		return fmt.Errorf("loading bars: %w", err)
	}
	fmt.Printf("%s: %d bars from %s (%s to %s)\n\n", q.Symbol, len(bars), a.loader.Name(),
		q.Start().Format(report.TimestampLayout), q.End.Format(report.TimestampLayout))

	if rawBars {
		path := simulator.Path{Bars: make([]simulator.SequencedBar, len(bars))}
		for i, b := range bars {
			path.Bars[i] = simulator.SequencedBar{Candle: b, TimestampSeq: i}
		}
		return printPath(path)
	}

	path, err := simulator.PreparePath(bars, pickDate, req.TradingDaysLimit, opts)
	if err != nil {
		return err
	}
	return printPath(path)
}

func printPath(path simulator.Path) error {
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"#", "Day", "Slot", "Time", "Open", "High", "Low", "Close", "Volume"}),
	)
	for _, b := range path.Bars {
		table.Append([]string{
			strconv.Itoa(b.TimestampSeq),
			strconv.Itoa(b.DaySeq),
			strconv.Itoa(b.IntervalSeq),
			b.Time.Format(report.TimestampLayout),
			fmt.Sprintf("%.4f", b.Open),
			fmt.Sprintf("%.4f", b.High),
			fmt.Sprintf("%.4f", b.Low),
			fmt.Sprintf("%.4f", b.Close),
			strconv.FormatInt(b.Volume, 10),
		})
	}
	return table.Render()
}
