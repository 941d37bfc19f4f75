// Package simulator replays a TP/SL ladder and a trailing stop against the
// intraday path that follows a pick date and reports the first exit.
package simulator

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"picksim/pkg/model"
)

// BarLoader supplies the raw bars of a simulation
type BarLoader interface {
	GetBars(ctx context.Context, q model.BarQuery) ([]model.Candle, error)
}

// Options holds market conventions shared by every simulation
type Options struct {
	Location      *time.Location
	EntryAfter    time.Duration // day-one bars before this time of day are skipped
	BarMultiplier int
	BarUnit       model.Timespan
}

// DefaultOptions returns US equity conventions: New York time, entry at
// 09:40 and 5-minute bars.
func DefaultOptions() Options {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Options{
		Location:      loc,
		EntryAfter:    9*time.Hour + 40*time.Minute,
		BarMultiplier: 5,
		BarUnit:       model.Minute,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Location == nil {
		o.Location = def.Location
	}
	if o.EntryAfter == 0 {
		o.EntryAfter = def.EntryAfter
	}
	if o.BarMultiplier == 0 {
		o.BarMultiplier = def.BarMultiplier
	}
	if o.BarUnit == "" {
		o.BarUnit = def.BarUnit
	}
	return o
}

// Request is the input of one simulation
type Request struct {
	Symbol           string
	PickDate         time.Time // calendar date; its clock and zone are ignored
	CalendarDays     int
	Ladder           Ladder
	TradingDaysLimit int
	// TrailingStopPct is the drawdown from the running high that exits,
	// e.g. 0.08. Zero disables the trailing stop.
	TrailingStopPct float64
}

// Validate checks the request parameters
func (r Request) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.PickDate.IsZero() {
		return fmt.Errorf("pick date is required")
	}
	if r.CalendarDays < 1 {
		return fmt.Errorf("calendar days must be at least 1")
	}
	if r.TradingDaysLimit < 1 {
		return fmt.Errorf("trading days limit must be at least 1")
	}
	if r.TrailingStopPct < 0 || r.TrailingStopPct >= 1 {
		return fmt.Errorf("trailing stop pct must be in [0, 1), got %g", r.TrailingStopPct)
	}
	return r.Ladder.Validate()
}

// Query returns the bar query covering the calendar window after the pick
func (r Request) Query(opts Options) model.BarQuery {
	opts = opts.withDefaults()
	return model.BarQuery{
		Symbol:       r.Symbol,
		End:          model.CalendarDate(r.PickDate, opts.Location).AddDate(0, 0, r.CalendarDays),
		LookbackDays: r.CalendarDays,
		Multiplier:   opts.BarMultiplier,
		Unit:         opts.BarUnit,
	}
}

// Simulator runs simulations against a bar loader
type Simulator struct {
	loader BarLoader
	opts   Options
	logger *zap.Logger
}

// New creates a simulator
func New(loader BarLoader, opts Options, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		loader: loader,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// Options returns the market conventions in use
func (s *Simulator) Options() Options {
	return s.opts
}

// Simulate loads the bars for req and resolves its outcome. It never
// panics or returns an error: every failure is reported in the Result.
func (s *Simulator) Simulate(ctx context.Context, req Request) (res Result) {
	defer recoverLogic(req, &res)

	if err := req.Validate(); err != nil {
		return failed(req, ErrInvalidRequest, "Invalid request: "+err.Error())
	}

	q := req.Query(s.opts)
	bars, err := s.loader.GetBars(ctx, q)
	if err != nil {
		s.logger.Warn("bar fetch failed",
			zap.String("symbol", req.Symbol),
			zap.String("source", sourceName(s.loader)),
			zap.Error(err))
		return failed(req, ErrNoData, fmt.Sprintf("No OHLC data returned from %s: %v", sourceName(s.loader), err))
	}
	if len(bars) == 0 {
		return failed(req, ErrNoData, "No OHLC data returned from "+sourceName(s.loader))
	}

	s.logger.Debug("bars loaded",
		zap.String("symbol", req.Symbol),
		zap.Int("bars", len(bars)),
		zap.Time("start", q.Start()),
		zap.Time("end", q.End))

	res = Run(bars, req, s.opts)
	if res.OK() {
		s.logger.Debug("simulation resolved",
			zap.String("symbol", req.Symbol),
			zap.String("trigger", string(res.Outcome.Trigger)),
			zap.Float64("return_pct", res.Outcome.ReturnPct))
	}
	return res
}

// Run resolves req against bars that are already loaded
func Run(bars []model.Candle, req Request, opts Options) (res Result) {
	defer recoverLogic(req, &res)

	if err := req.Validate(); err != nil {
		return failed(req, ErrInvalidRequest, "Invalid request: "+err.Error())
	}
	if len(bars) == 0 {
		return failed(req, ErrNoData, "No OHLC data returned")
	}

	path, err := PreparePath(bars, req.PickDate, req.TradingDaysLimit, opts)
	if err != nil {
		if pe, ok := err.(*pathError); ok {
			return failed(req, pe.kind, pe.msg)
		}
		return failed(req, ErrLogic, "Logic error: "+err.Error())
	}

	if buy := path.Entry().Open; !(buy > 0) || math.IsInf(buy, 0) {
		return failed(req, ErrLogic, fmt.Sprintf("Logic error: entry price %v at %s is not a positive number",
			buy, path.Entry().Time.Format("2006-01-02 15:04")))
	}

	o := Resolve(path, req.Ladder, req.TradingDaysLimit, req.TrailingStopPct)
	if !finite(o.SellPrice) || !finite(o.ReturnPct) {
		return failed(req, ErrLogic, fmt.Sprintf("Logic error: non-finite exit (sell %v, return %v)", o.SellPrice, o.ReturnPct))
	}
	return succeeded(req, o)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func recoverLogic(req Request, res *Result) {
	if r := recover(); r != nil {
		*res = failed(req, ErrLogic, fmt.Sprintf("Logic error: %v", r))
	}
}

func sourceName(l BarLoader) string {
	if n, ok := l.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "provider"
}
