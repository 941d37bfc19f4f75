package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"picksim/internal/simulator"
	"picksim/pkg/model"
)

// Config represents the application configuration
type Config struct {
	API           APIConfig           `yaml:"api"`
	Simulation    SimulationConfig    `yaml:"simulation"`
	Batch         BatchConfig         `yaml:"batch"`
	Sheets        SheetsConfig        `yaml:"sheets"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// APIConfig holds bar provider configurations, tried in the order of
// Order
type APIConfig struct {
	Order   []string       `yaml:"order"`
	Polygon ProviderConfig `yaml:"polygon"`
	Alpaca  AlpacaConfig   `yaml:"alpaca"`
	Finnhub ProviderConfig `yaml:"finnhub"`
	Yahoo   YahooConfig    `yaml:"yahoo"`
}

// ProviderConfig holds individual provider settings
type ProviderConfig struct {
	Key       string `yaml:"key"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute
}

// AlpacaConfig holds Alpaca market data credentials
type AlpacaConfig struct {
	Key       string `yaml:"key"`
	Secret    string `yaml:"secret"`
	Feed      string `yaml:"feed"` // iex or sip
	RateLimit int    `yaml:"rate_limit"`
}

// YahooConfig toggles the keyless Yahoo chart API
type YahooConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SimulationConfig holds the parameters of every simulation
type SimulationConfig struct {
	CalendarDays    int              `yaml:"calendar_days"`
	TradingDays     int              `yaml:"trading_days"`
	TrailingStopPct float64          `yaml:"trailing_stop_pct"`
	BarMultiplier   int              `yaml:"bar_multiplier"`
	BarUnit         string           `yaml:"bar_unit"`
	Timezone        string           `yaml:"timezone"`
	EntryAfter      string           `yaml:"entry_after"` // HH:MM, day-one bars before it are skipped
	Ladder          simulator.Ladder `yaml:"ladder"`      // empty uses the default ladder
}

// BatchConfig holds pick filtering settings
type BatchConfig struct {
	MinMarketCap      float64 `yaml:"min_mcap"`
	RequirePositiveMG bool    `yaml:"require_positive_mg"`
	SkipProcessed     bool    `yaml:"skip_processed"`
}

// SheetsConfig points at the pick spreadsheet
type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	InputTab        string `yaml:"input_tab"`
	OutputTab       string `yaml:"output_tab"`
}

// StorageConfig holds the SQLite cache location; empty disables it
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // console or json
	MetricsFile string `yaml:"metrics_file"`
	Tracing     bool   `yaml:"tracing"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Order: []string{"polygon", "alpaca", "finnhub", "yahoo"},
			Polygon: ProviderConfig{
				RateLimit: 5,
			},
			Alpaca: AlpacaConfig{
				Feed:      "iex",
				RateLimit: 200,
			},
			Finnhub: ProviderConfig{
				RateLimit: 60,
			},
		},
		Simulation: SimulationConfig{
			CalendarDays:    20,
			TradingDays:     10,
			TrailingStopPct: 0.08,
			BarMultiplier:   5,
			BarUnit:         string(model.Minute),
			Timezone:        "America/New_York",
			EntryAfter:      "09:40",
		},
		Batch: BatchConfig{
			MinMarketCap:      500,
			RequirePositiveMG: true,
			SkipProcessed:     true,
		},
		Sheets: SheetsConfig{
			InputTab:  "segment_6_pos",
			OutputTab: "df_backtest",
		},
		Storage: StorageConfig{
			Path: "picksim.db",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Load loads configuration from a YAML file. A .env file in the working
// directory is read first; environment variables override file values.
func Load(path string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Use defaults if file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides values with environment variables if set
func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"POLYGON_API_KEY", &c.API.Polygon.Key},
		{"APCA_API_KEY_ID", &c.API.Alpaca.Key},
		{"APCA_API_SECRET_KEY", &c.API.Alpaca.Secret},
		{"FINNHUB_API_KEY", &c.API.Finnhub.Key},
		{"GOOGLE_APPLICATION_CREDENTIALS", &c.Sheets.CredentialsFile},
		{"PICKSIM_SPREADSHEET_ID", &c.Sheets.SpreadsheetID},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	s := c.Simulation
	if s.CalendarDays < 1 {
		return fmt.Errorf("calendar_days must be at least 1")
	}
	if s.TradingDays < 1 {
		return fmt.Errorf("trading_days must be at least 1")
	}
	if s.TrailingStopPct < 0 || s.TrailingStopPct >= 1 {
		return fmt.Errorf("trailing_stop_pct must be in [0, 1)")
	}
	if s.BarMultiplier < 1 {
		return fmt.Errorf("bar_multiplier must be at least 1")
	}
	switch model.Timespan(s.BarUnit) {
	case model.Minute, model.Hour, model.Day:
	default:
		return fmt.Errorf("bar_unit must be minute, hour or day")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if _, err := parseClock(s.EntryAfter); err != nil {
		return fmt.Errorf("entry_after: %w", err)
	}
	if err := s.Ladder.Validate(); err != nil {
		return fmt.Errorf("ladder: %w", err)
	}
	for _, name := range c.API.Order {
		switch name {
		case "polygon", "alpaca", "finnhub", "yahoo":
		default:
			return fmt.Errorf("unknown provider %q in api.order", name)
		}
	}
	if c.Batch.MinMarketCap < 0 {
		return fmt.Errorf("min_mcap must not be negative")
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json")
	}
	return nil
}

// HasProvider reports whether any bar provider is configured
func (c *Config) HasProvider() bool {
	return c.API.Polygon.Key != "" ||
		(c.API.Alpaca.Key != "" && c.API.Alpaca.Secret != "") ||
		c.API.Finnhub.Key != "" ||
		c.API.Yahoo.Enabled
}

// SimulatorOptions returns the market conventions for the simulator
func (c *Config) SimulatorOptions() (simulator.Options, error) {
	loc, err := time.LoadLocation(c.Simulation.Timezone)
	if err != nil {
		return simulator.Options{}, fmt.Errorf("timezone: %w", err)
	}
	entry, err := parseClock(c.Simulation.EntryAfter)
	if err != nil {
		return simulator.Options{}, fmt.Errorf("entry_after: %w", err)
	}
	return simulator.Options{
		Location:      loc,
		EntryAfter:    entry,
		BarMultiplier: c.Simulation.BarMultiplier,
		BarUnit:       model.Timespan(c.Simulation.BarUnit),
	}, nil
}

// Ladder returns the configured ladder, or the default one sized to the
// trading day limit
func (c *Config) Ladder() simulator.Ladder {
	if len(c.Simulation.Ladder) > 0 {
		return c.Simulation.Ladder
	}
	return simulator.DefaultLadder(c.Simulation.TradingDays)
}

// Request builds a simulation request for symbol picked on date
func (c *Config) Request(symbol string, date time.Time) simulator.Request {
	return simulator.Request{
		Symbol:           symbol,
		PickDate:         date,
		CalendarDays:     c.Simulation.CalendarDays,
		Ladder:           c.Ladder(),
		TradingDaysLimit: c.Simulation.TradingDays,
		TrailingStopPct:  c.Simulation.TrailingStopPct,
	}
}

// parseClock parses HH:MM into an offset from midnight
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
