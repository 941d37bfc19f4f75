// Package batch drives simulations over a list of picks and exports the
// successful rows.
package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"picksim/internal/observability"
	"picksim/internal/report"
	"picksim/internal/simulator"
	"picksim/pkg/model"
)

// ProgressCallback is called after every pick
type ProgressCallback func(done, total int)

// Simulator runs one simulation
type Simulator interface {
	Simulate(ctx context.Context, req simulator.Request) simulator.Result
}

// RequestFunc builds the request of a pick
type RequestFunc func(symbol string, date time.Time) simulator.Request

// Journal records every result of a run
type Journal interface {
	RecordResult(ctx context.Context, runID string, res simulator.Result) error
}

// Report is the outcome of one batch run
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Rows     []report.Row
	Results  []simulator.Result
	Summary  report.Summary
}

// Successful returns the rows to export
func (r *Report) Successful() []report.Row {
	return report.SuccessfulRows(r.Rows)
}

// Runner simulates picks one after another
type Runner struct {
	sim          Simulator
	request      RequestFunc
	logger       *zap.Logger
	journal      Journal
	metrics      *observability.Metrics
	tracer       trace.Tracer
	progressFunc ProgressCallback
	newID        func() string
}

// NewRunner creates a runner
func NewRunner(sim Simulator, request RequestFunc, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		sim:     sim,
		request: request,
		logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer("batch"),
		newID:   uuid.NewString,
	}
}

// SetProgressCallback sets the progress callback function
func (r *Runner) SetProgressCallback(fn ProgressCallback) {
	r.progressFunc = fn
}

// SetJournal records every result of later runs in j
func (r *Runner) SetJournal(j Journal) {
	r.journal = j
}

// SetMetrics sets the metrics updated per result
func (r *Runner) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// SetTracer sets the tracer spans are started from
func (r *Runner) SetTracer(t trace.Tracer) {
	if t != nil {
		r.tracer = t
	}
}

// Run simulates every pick in order. A failed simulation is recorded and
// the batch continues. Cancellation stops between picks and returns the
// partial report together with the context error.
func (r *Runner) Run(ctx context.Context, picks []model.Pick) (*Report, error) {
	rep := &Report{
		RunID:   r.newID(),
		Started: time.Now(),
		Rows:    make([]report.Row, 0, len(picks)),
		Results: make([]simulator.Result, 0, len(picks)),
	}
	logger := r.logger.With(zap.String("run_id", rep.RunID))
	logger.Info("batch started", zap.Int("picks", len(picks)))

	ctx, span := r.tracer.Start(ctx, "batch.run", trace.WithAttributes(
		attribute.String("run_id", rep.RunID),
		attribute.Int("picks", len(picks)),
	))
	defer span.End()

	var runErr error
	for i, p := range picks {
		if err := ctx.Err(); err != nil {
			logger.Warn("batch cancelled", zap.Int("done", i), zap.Int("total", len(picks)))
			runErr = err
			break
		}

		res := r.simulate(ctx, p)
		rep.Results = append(rep.Results, res)
		rep.Rows = append(rep.Rows, report.NewRow(p, res))

		if r.metrics != nil {
			r.metrics.Observe(res)
		}
		if r.journal != nil {
			if err := r.journal.RecordResult(ctx, rep.RunID, res); err != nil {
				logger.Warn("journal write failed", zap.String("symbol", p.Ticker), zap.Error(err))
			}
		}
		if r.progressFunc != nil {
			r.progressFunc(i+1, len(picks))
		}
	}

	rep.Finished = time.Now()
	rep.Summary = report.Summarize(rep.Results)
	if r.metrics != nil {
		r.metrics.BatchDone(rep.Started, rep.Finished)
	}

	span.SetAttributes(
		attribute.Int("succeeded", rep.Summary.Succeeded),
		attribute.Int("failed", rep.Summary.Failed),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}

	logger.Info("batch finished",
		zap.Int("succeeded", rep.Summary.Succeeded),
		zap.Int("failed", rep.Summary.Failed),
		zap.Duration("elapsed", rep.Finished.Sub(rep.Started)))
	return rep, runErr
}

func (r *Runner) simulate(ctx context.Context, p model.Pick) simulator.Result {
	ctx, span := r.tracer.Start(ctx, "simulate", trace.WithAttributes(
		attribute.String("symbol", p.Ticker),
		attribute.String("pick_date", p.Date.Format(model.DateLayout)),
	))
	defer span.End()

	res := r.sim.Simulate(ctx, r.request(p.Ticker, p.Date))
	if !res.OK() {
		err := res.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("simulation failed",
			zap.String("symbol", p.Ticker),
			zap.String("date", p.Date.Format(model.DateLayout)),
			zap.String("kind", observability.FailureKind(err)),
			zap.Error(err))
		return res
	}

	o := res.Outcome
	span.SetAttributes(
		attribute.String("trigger", string(o.Trigger)),
		attribute.Float64("return_pct", o.ReturnPct),
		attribute.Int("day_seq", o.DaySeq),
	)
	r.logger.Debug("simulation done",
		zap.String("symbol", p.Ticker),
		zap.String("trigger", string(o.Trigger)),
		zap.Float64("return_pct", o.ReturnPct))
	return res
}
