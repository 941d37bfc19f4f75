package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"picksim/internal/simulator"
	"picksim/pkg/model"
)

const namespace = "picksim"

// Metrics holds the counters of one process. Each instance owns its
// registry so tests and repeated runs do not collide.
type Metrics struct {
	registry *prometheus.Registry

	Simulations   *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	Returns       prometheus.Histogram
	HoldingDays   prometheus.Histogram
	BarsLoaded    prometheus.Counter
	BatchDuration prometheus.Gauge
	LastBatch     prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "simulations_total",
			Help:      "Completed simulations by exit trigger",
		}, []string{"trigger"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "failures_total",
			Help:      "Failed simulations by kind",
		}, []string{"kind"}),
		Returns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "return_pct",
			Help:      "Return of completed simulations in percent",
			Buckets:   []float64{-20, -10, -5, -2, 0, 2, 5, 10, 15, 25},
		}),
		HoldingDays: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "holding_days",
			Help:      "Trading day of the exit",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
		BarsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "bars_total",
			Help:      "Bars loaded for simulations",
		}),
		BatchDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Wall time of the last batch run",
		}),
		LastBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last batch run finished",
		}),
	}
	reg.MustRegister(m.Simulations, m.Failures, m.Returns, m.HoldingDays,
		m.BarsLoaded, m.BatchDuration, m.LastBatch)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records one simulation result
func (m *Metrics) Observe(res simulator.Result) {
	if res.OK() {
		o := res.Outcome
		m.Simulations.WithLabelValues(string(o.Trigger)).Inc()
		m.Returns.Observe(o.ReturnPct)
		m.HoldingDays.Observe(float64(o.DaySeq))
		return
	}
	m.Failures.WithLabelValues(FailureKind(res.Err())).Inc()
}

// BatchDone records the duration of a finished batch
func (m *Metrics) BatchDone(start, end time.Time) {
	m.BatchDuration.Set(end.Sub(start).Seconds())
	m.LastBatch.Set(float64(end.Unix()))
}

// CountBars wraps loader so every returned bar is counted
func (m *Metrics) CountBars(loader simulator.BarLoader) simulator.BarLoader {
	return countingLoader{inner: loader, bars: m.BarsLoaded}
}

type countingLoader struct {
	inner simulator.BarLoader
	bars  prometheus.Counter
}

func (l countingLoader) Name() string {
	if n, ok := l.inner.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "provider"
}

func (l countingLoader) GetBars(ctx context.Context, q model.BarQuery) ([]model.Candle, error) {
	bars, err := l.inner.GetBars(ctx, q)
	l.bars.Add(float64(len(bars)))
	return bars, err
}

// WriteTextfile writes the registry in the node-exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// FailureKind maps a simulation error to a short label value
func FailureKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, simulator.ErrNoData):
		return "no_data"
	case errors.Is(err, simulator.ErrInsufficientPath):
		return "insufficient_path"
	case errors.Is(err, simulator.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, simulator.ErrLogic):
		return "logic"
	default:
		return "other"
	}
}
