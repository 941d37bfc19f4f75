package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"picksim/internal/config"
	"picksim/internal/observability"
	"picksim/internal/provider"
	"picksim/internal/simulator"
	"picksim/internal/store"
)

var (
	cfgFile     string
	logLevel    string
	metricsFile string
	traceSpans  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "picksim",
		Short: "Backtest stock picks against a take-profit / stop-loss ladder",
		Long: `Picksim replays intraday bars after each pick date and reports which exit
fires first: take profit, stop loss, trailing stop or the end of the
holding period.

Examples:
  picksim simulate --symbol AAPL --date 2024-03-04
  picksim batch --csv picks.csv --out results.csv
  picksim bars --symbol AAPL --date 2024-03-04`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false, "print OpenTelemetry spans to stderr")

	rootCmd.AddCommand(newSimulateCmd(), newBatchCmd(), newBarsCmd(), newResultsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	tracing *observability.Tracing
	store   *store.Store
	loader  provider.Provider
	sim     *simulator.Simulator
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// Override config with CLI flags
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	if metricsFile != "" {
		cfg.Observability.MetricsFile = metricsFile
	}
	if traceSpans {
		cfg.Observability.Tracing = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, err
	}

	tracing, err := observability.InitTracer(ctx, cfg.Observability.Tracing, os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics(), tracing: tracing}

	opts, err := cfg.SimulatorOptions()
	if err != nil {
		return nil, err
	}

	providers := createProviders(cfg, opts)
	if len(providers) == 0 {
		return nil, fmt.Errorf("no bar providers available. Set POLYGON_API_KEY, APCA_API_KEY_ID/APCA_API_SECRET_KEY or FINNHUB_API_KEY, or enable yahoo")
	}
	fallback := provider.NewFallbackProvider(providers...)

	var cache provider.BarCache
	if cfg.Storage.Path != "" {
		a.store, err = store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		cache = a.store
	}
	a.loader = provider.NewCachingProvider(fallback, cache)

	names := make([]string, 0, len(providers))
	for _, p := range fallback.Providers() {
		names = append(names, p.Name())
	}
	logger.Debug("providers ready", zap.Strings("providers", names), zap.String("storage", cfg.Storage.Path))

	a.sim = simulator.New(a.metrics.CountBars(a.loader), opts, logger)
	return a, nil
}

// close flushes spans and metrics and releases the store
func (a *app) close() {
	if err := a.tracing.Shutdown(context.Background()); err != nil {
		a.logger.Warn("trace shutdown failed", zap.Error(err))
	}
	if path := a.cfg.Observability.MetricsFile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("writing metrics failed", zap.String("path", path), zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing store failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func createProviders(cfg *config.Config, opts simulator.Options) []provider.Provider {
	var providers []provider.Provider
	loc := opts.Location

	for _, name := range cfg.API.Order {
		switch name {
		case "polygon":
			if cfg.API.Polygon.Key != "" {
				providers = append(providers, provider.NewPolygonProvider(cfg.API.Polygon.Key, cfg.API.Polygon.RateLimit, loc))
			}
		case "alpaca":
			a := cfg.API.Alpaca
			if a.Key != "" && a.Secret != "" {
				providers = append(providers, provider.NewAlpacaProvider(a.Key, a.Secret, a.Feed, a.RateLimit, loc))
			}
		case "finnhub":
			if cfg.API.Finnhub.Key != "" {
				providers = append(providers, provider.NewFinnhubProvider(cfg.API.Finnhub.Key, cfg.API.Finnhub.RateLimit, loc))
			}
		case "yahoo":
			if cfg.API.Yahoo.Enabled {
				providers = append(providers, provider.NewYahooProvider(loc))
			}
		}
	}
	return providers
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
