package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picksim/internal/observability"
	"picksim/internal/picks"
	"picksim/internal/report"
	"picksim/internal/simulator"
	"picksim/pkg/model"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// fakeSim fails for symbols listed in fail and wins 10% otherwise
type fakeSim struct {
	fail  map[string]bool
	calls []string
	onRun func(n int)
}

func (f *fakeSim) Simulate(_ context.Context, req simulator.Request) simulator.Result {
	f.calls = append(f.calls, req.Symbol)
	if f.onRun != nil {
		f.onRun(len(f.calls))
	}
	if f.fail[req.Symbol] {
		return simulator.Result{Symbol: req.Symbol, PickDate: req.PickDate,
			Failure: &simulator.Failure{Kind: simulator.ErrNoData, Message: "No OHLC data returned"}}
	}
	return simulator.Result{Symbol: req.Symbol, PickDate: req.PickDate, Outcome: &simulator.Outcome{
		BuyPrice: 10, SellPrice: 11, ReturnPct: 10, BuyTime: day.AddDate(0, 0, 1), SellTime: day.AddDate(0, 0, 2),
		DaySeq: 1, Trigger: simulator.TriggerTakeProfit,
	}}
}

func request(symbol string, date time.Time) simulator.Request {
	return simulator.Request{Symbol: symbol, PickDate: date}
}

type memJournal struct {
	mu   sync.Mutex
	runs map[string][]simulator.Result
	err  error
}

func (j *memJournal) RecordResult(_ context.Context, runID string, res simulator.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runs == nil {
		j.runs = map[string][]simulator.Result{}
	}
	j.runs[runID] = append(j.runs[runID], res)
	return j.err
}

func picksOf(tickers ...string) []model.Pick {
	out := make([]model.Pick, len(tickers))
	for i, t := range tickers {
		out[i] = model.Pick{Date: day, Ticker: t, Sector: "Tech", MarketCap: 1000, PositiveMG: true}
	}
	return out
}

func TestRunFailuresDoNotAbort(t *testing.T) {
	sim := &fakeSim{fail: map[string]bool{"BAD": true}}
	journal := &memJournal{}
	metrics := observability.NewMetrics()

	r := NewRunner(sim, request, nil)
	r.newID = func() string { return "run-1" }
	r.SetJournal(journal)
	r.SetMetrics(metrics)

	var progress []int
	r.SetProgressCallback(func(done, total int) {
		assert.Equal(t, 3, total)
		progress = append(progress, done)
	})

	rep, err := r.Run(context.Background(), picksOf("AAPL", "BAD", "MSFT"))
	require.NoError(t, err)

	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, []string{"AAPL", "BAD", "MSFT"}, sim.calls)
	assert.Equal(t, []int{1, 2, 3}, progress)
	require.Len(t, rep.Rows, 3)
	assert.Equal(t, 2, rep.Summary.Succeeded)
	assert.Equal(t, 1, rep.Summary.Failed)

	ok := rep.Successful()
	require.Len(t, ok, 2)
	assert.Equal(t, "MSFT", ok[1].Ticker)

	assert.Len(t, journal.runs["run-1"], 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Simulations.WithLabelValues("Take Profit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failures.WithLabelValues("no_data")))
}

func TestRunJournalErrorIsNotFatal(t *testing.T) {
	r := NewRunner(&fakeSim{}, request, nil)
	r.SetJournal(&memJournal{err: errors.New("disk full")})

	rep, err := r.Run(context.Background(), picksOf("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Summary.Succeeded)
}

func TestRunCancelledBetweenPicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := &fakeSim{onRun: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	r := NewRunner(sim, request, nil)

	rep, err := r.Run(ctx, picksOf("A", "B", "C", "D"))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.Len(t, rep.Results, 2)
	assert.Equal(t, []string{"A", "B"}, sim.calls)
}

func TestRunAssignsFreshRunIDs(t *testing.T) {
	r := NewRunner(&fakeSim{}, request, nil)
	a, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	b, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Len(t, a.RunID, 36)
}

type staticSource struct {
	picks []model.Pick
	err   error
}

func (s staticSource) Name() string                                { return "static" }
func (s staticSource) Load(context.Context) ([]model.Pick, error) { return s.picks, s.err }

type captureExporter struct {
	rows []report.Row
	err  error
}

func (c *captureExporter) Export(_ context.Context, rows []report.Row) error {
	c.rows = append(c.rows, rows...)
	return c.err
}

func TestProcessExportsSuccessfulRows(t *testing.T) {
	in := picksOf("AAPL", "BAD", "MSFT")
	in = append(in, model.Pick{Date: day, Ticker: "TINY", MarketCap: 10, PositiveMG: true})

	sim := &fakeSim{fail: map[string]bool{"BAD": true}}
	exp := &captureExporter{}
	r := NewRunner(sim, request, nil)

	rep, err := r.Process(context.Background(), staticSource{picks: in},
		picks.FilterOptions{MinMarketCap: 500, RequirePositiveMG: true, SkipProcessed: true}, exp)
	require.NoError(t, err)

	assert.NotContains(t, sim.calls, "TINY")
	assert.Len(t, rep.Results, 3)
	require.Len(t, exp.rows, 2)
	for _, row := range exp.rows {
		assert.True(t, row.OK())
	}
}

func TestProcessDryRunAndErrors(t *testing.T) {
	r := NewRunner(&fakeSim{}, request, nil)

	rep, err := r.Process(context.Background(), staticSource{picks: picksOf("AAPL")}, picks.FilterOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, rep.Results, 1)

	_, err = r.Process(context.Background(), staticSource{err: errors.New("quota")}, picks.FilterOptions{}, nil)
	assert.ErrorContains(t, err, "quota")

	rep, err = r.Process(context.Background(), staticSource{picks: picksOf("AAPL")}, picks.FilterOptions{},
		&captureExporter{err: errors.New("forbidden")})
	assert.ErrorContains(t, err, "forbidden")
	assert.NotNil(t, rep)
}

type fakeAppender struct {
	tab  string
	rows [][]string
}

func (f *fakeAppender) AppendRows(_ context.Context, tab string, rows [][]string) error {
	f.tab = tab
	f.rows = append(f.rows, rows...)
	return nil
}

func TestSheetExporter(t *testing.T) {
	app := &fakeAppender{}
	rep, err := NewRunner(&fakeSim{}, request, nil).Run(context.Background(), picksOf("AAPL"))
	require.NoError(t, err)

	require.NoError(t, NewSheetExporter(app, "df_backtest").Export(context.Background(), rep.Successful()))
	assert.Equal(t, "df_backtest", app.tab)
	require.Len(t, app.rows, 1)
	assert.Equal(t, "AAPL", app.rows[0][1])
	assert.Equal(t, "Take Profit", app.rows[0][len(app.rows[0])-1])
}

func TestCSVExporterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	exp := NewCSVExporter(path)

	rep, err := NewRunner(&fakeSim{}, request, nil).Run(context.Background(), picksOf("AAPL", "MSFT"))
	require.NoError(t, err)

	require.NoError(t, exp.Export(context.Background(), rep.Successful()[:1]))
	require.NoError(t, exp.Export(context.Background(), rep.Successful()[1:]))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "date,ticker"))
	assert.Contains(t, lines[2], "MSFT")
}

// barsLoader serves the same session for every symbol, with a zero
// opening price on the entry bar for the symbols in broken
type barsLoader struct {
	broken map[string]bool
}

func (l barsLoader) GetBars(_ context.Context, q model.BarQuery) ([]model.Candle, error) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	var bars []model.Candle
	for _, d := range []int{5, 6, 7} {
		for m := 0; m < 60; m += 5 {
			ts := time.Date(2024, 3, d, 9, 30, 0, 0, ny).Add(time.Duration(m) * time.Minute)
			bars = append(bars, model.Candle{Time: ts, Open: 10, High: 10.1, Low: 9.9, Close: 10})
		}
	}
	if l.broken[q.Symbol] {
		for i := range bars {
			bars[i].Open = 0
		}
	}
	return bars, nil
}

func TestRunSurvivesZeroPrices(t *testing.T) {
	sim := simulator.New(barsLoader{broken: map[string]bool{"BAD": true}}, simulator.Options{}, nil)
	r := NewRunner(sim, func(symbol string, date time.Time) simulator.Request {
		return simulator.Request{
			Symbol: symbol, PickDate: date, CalendarDays: 20, TradingDaysLimit: 3,
			Ladder: simulator.DefaultLadder(3), TrailingStopPct: 0.08,
		}
	}, nil)

	var rep *Report
	var err error
	require.NotPanics(t, func() {
		rep, err = r.Run(context.Background(), picksOf("BAD", "NEXT"))
	})
	require.NoError(t, err)
	require.Len(t, rep.Results, 2)
	assert.ErrorIs(t, rep.Results[0].Err(), simulator.ErrLogic)
	assert.True(t, rep.Results[1].OK(), "%v", rep.Results[1].Err())
	assert.Len(t, rep.Successful(), 1)
}
