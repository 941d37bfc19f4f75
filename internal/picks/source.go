package picks

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"picksim/pkg/model"
)

// Source loads the raw pick list
type Source interface {
	Name() string
	Load(ctx context.Context) ([]model.Pick, error)
}

// RecordReader reads a sheet tab as header-keyed records
type RecordReader interface {
	ReadRecords(ctx context.Context, tab string) ([]map[string]string, error)
}

// SheetSource reads picks from a spreadsheet tab
type SheetSource struct {
	reader RecordReader
	tab    string
	loc    *time.Location
	logger *zap.Logger
}

// NewSheetSource creates a source reading tab through reader
func NewSheetSource(reader RecordReader, tab string, loc *time.Location, logger *zap.Logger) *SheetSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SheetSource{reader: reader, tab: tab, loc: loc, logger: logger}
}

// Name returns the source name
func (s *SheetSource) Name() string {
	return "sheet:" + s.tab
}

// Load reads and parses the tab
func (s *SheetSource) Load(ctx context.Context) ([]model.Pick, error) {
	records, err := s.reader.ReadRecords(ctx, s.tab)
	if err != nil {
		return nil, err
	}
	return parseRecords(records, s.loc, s.logger), nil
}

// CSVSource reads picks from a CSV file with a header row
type CSVSource struct {
	path   string
	loc    *time.Location
	logger *zap.Logger
}

// NewCSVSource creates a source reading path
func NewCSVSource(path string, loc *time.Location, logger *zap.Logger) *CSVSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSource{path: path, loc: loc, logger: logger}
}

// Name returns the source name
func (s *CSVSource) Name() string {
	return "csv:" + s.path
}

// Load reads and parses the file
func (s *CSVSource) Load(ctx context.Context) ([]model.Pick, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening picks: %w", err)
	}
	defer f.Close()

	records, err := ReadCSVRecords(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return parseRecords(records, s.loc, s.logger), nil
}

// ReadCSVRecords reads r as header-keyed records
func ReadCSVRecords(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	records := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseRecords parses every record, logging and skipping the invalid ones
func parseRecords(records []map[string]string, loc *time.Location, logger *zap.Logger) []model.Pick {
	if loc == nil {
		loc = time.UTC
	}
	picks := make([]model.Pick, 0, len(records))
	for i, rec := range records {
		p, err := ParseRecord(rec, loc)
		if err != nil {
			// +2: header row and 1-based numbering
			logger.Warn("skipping pick row", zap.Int("row", i+2), zap.Error(err))
			continue
		}
		picks = append(picks, p)
	}
	return picks
}
