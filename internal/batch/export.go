package batch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"picksim/internal/picks"
	"picksim/internal/report"
)

// Exporter writes successful rows somewhere durable
type Exporter interface {
	Export(ctx context.Context, rows []report.Row) error
}

// RowAppender appends raw rows to a named tab
type RowAppender interface {
	AppendRows(ctx context.Context, tab string, rows [][]string) error
}

// SheetExporter appends rows, without a header, to a spreadsheet tab
type SheetExporter struct {
	appender RowAppender
	tab      string
}

// NewSheetExporter creates an exporter for tab
func NewSheetExporter(appender RowAppender, tab string) *SheetExporter {
	return &SheetExporter{appender: appender, tab: tab}
}

func (e *SheetExporter) Export(ctx context.Context, rows []report.Row) error {
	if len(rows) == 0 {
		return nil
	}
	return e.appender.AppendRows(ctx, e.tab, report.Matrix(rows))
}

// CSVExporter appends rows to a CSV file. A new file gets a header row.
type CSVExporter struct {
	path string
}

// NewCSVExporter creates an exporter for path
func NewCSVExporter(path string) *CSVExporter {
	return &CSVExporter{path: path}
}

func (e *CSVExporter) Export(_ context.Context, rows []report.Row) error {
	_, err := os.Stat(e.path)
	header := errors.Is(err, os.ErrNotExist)

	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", e.path, err)
	}
	if err := report.WriteCSV(f, rows, header); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", e.path, err)
	}
	return f.Close()
}

// Process loads picks from src, keeps those selected by opts, simulates
// them and exports the successful rows. A nil exporter skips the export.
func (r *Runner) Process(ctx context.Context, src picks.Source, opts picks.FilterOptions, exp Exporter) (*Report, error) {
	all, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading picks from %s: %w", src.Name(), err)
	}
	selected := picks.Select(all, opts)
	r.logger.Info("picks selected",
		zap.String("source", src.Name()),
		zap.Int("loaded", len(all)),
		zap.Int("selected", len(selected)))

	rep, runErr := r.Run(ctx, selected)
	if rep == nil || exp == nil {
		return rep, runErr
	}

	ok := rep.Successful()
	if len(ok) == 0 {
		r.logger.Info("nothing to export")
		return rep, runErr
	}
	if err := exp.Export(ctx, ok); err != nil {
		return rep, errors.Join(runErr, fmt.Errorf("exporting results: %w", err))
	}
	r.logger.Info("results exported", zap.Int("rows", len(ok)))
	return rep, runErr
}
