package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"picksim/internal/batch"
	"picksim/internal/picks"
	"picksim/internal/report"
	"picksim/internal/sheets"
)

var (
	csvIn   string
	csvOut  string
	dryRun  bool
	verbose bool
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Simulate every selected pick and export the successful rows",
		Long: `Batch loads picks from the configured spreadsheet tab (or --csv), keeps
picks with a positive MG flag and a large enough market cap that are not yet
processed, drops duplicates and simulates them one after another.

Successful rows are appended to the output tab, or to --out when given.`,
		RunE: runBatch,
	}
	cmd.Flags().StringVar(&csvIn, "csv", "", "read picks from this CSV file instead of the spreadsheet")
	cmd.Flags().StringVar(&csvOut, "out", "", "append results to this CSV file instead of the spreadsheet")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate without exporting")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "list every row, not only the summary")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var client *sheets.Client
	if csvIn == "" || (csvOut == "" && !dryRun) {
		client, err = sheetsClient(a)
		if err != nil {
			return err
		}
	}

	loc := a.sim.Options().Location
	var src picks.Source
	if csvIn != "" {
		src = picks.NewCSVSource(csvIn, loc, a.logger)
	} else {
		src = picks.NewSheetSource(client, a.cfg.Sheets.InputTab, loc, a.logger)
	}

	var exp batch.Exporter
	switch {
	case dryRun:
	case csvOut != "":
		exp = batch.NewCSVExporter(csvOut)
	default:
		exp = batch.NewSheetExporter(client, a.cfg.Sheets.OutputTab)
	}

	runner := batch.NewRunner(a.sim, a.cfg.Request, a.logger)
	runner.SetMetrics(a.metrics)
	runner.SetTracer(a.tracing.Tracer())
	if a.store != nil {
		runner.SetJournal(a.store)
	}

	pb := &progress{ctx: ctx}
	runner.SetProgressCallback(pb.update)

	rep, err := runner.Process(ctx, src, picks.FilterOptions{
		MinMarketCap:      a.cfg.Batch.MinMarketCap,
		RequirePositiveMG: a.cfg.Batch.RequirePositiveMG,
		SkipProcessed:     a.cfg.Batch.SkipProcessed,
	}, exp)
	pb.finish()
	if rep == nil {
		return err
	}

	if printErr := printReport(rep); printErr != nil {
		a.logger.Warn("printing report failed", zap.Error(printErr))
	}
	return err
}

func sheetsClient(a *app) (*sheets.Client, error) {
	sc := a.cfg.Sheets
	if sc.CredentialsFile == "" || sc.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet access needs sheets.credentials_file and sheets.spreadsheet_id (or GOOGLE_APPLICATION_CREDENTIALS and PICKSIM_SPREADSHEET_ID); use --csv/--out to work with files")
	}
	return sheets.NewServiceAccountClient(sc.CredentialsFile, sc.SpreadsheetID, a.logger)
}

// progress draws a bar sized on the first callback, once the number of
// selected picks is known
type progress struct {
	ctx context.Context
	bar *progressbar.ProgressBar
}

func (p *progress) update(done, total int) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Simulating"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]█[reset]",
				SaucerHead:    "[green]█[reset]",
				SaucerPadding: "░",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	if p.ctx.Err() == nil {
		_ = p.bar.Set(done)
	}
}

func (p *progress) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(os.Stderr)
}

func printReport(rep *batch.Report) error {
	if format == "json" {
		return report.WriteJSON(os.Stdout, map[string]any{
			"run_id":  rep.RunID,
			"rows":    rep.Rows,
			"summary": rep.Summary,
		})
	}

	fmt.Printf("Run %s: %d picks in %s\n\n", rep.RunID, len(rep.Results), rep.Finished.Sub(rep.Started).Round(time.Millisecond))
	if verbose {
		if err := report.WriteTable(os.Stdout, rep.Rows); err != nil {
			return err
		}
		fmt.Println()
	}
	return report.WriteSummary(os.Stdout, rep.Summary)
}
