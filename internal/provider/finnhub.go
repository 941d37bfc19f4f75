package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"picksim/internal/ratelimit"
	"picksim/pkg/model"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubProvider implements the Provider interface for Finnhub API
type FinnhubProvider struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	limiter   *ratelimit.Limiter
	rateLimit int
	loc       *time.Location
}

// NewFinnhubProvider creates a new Finnhub provider
func NewFinnhubProvider(apiKey string, rateLimitPerMin int, loc *time.Location) *FinnhubProvider {
	if loc == nil {
		loc = MarketLocation()
	}
	return &FinnhubProvider{
		apiKey:    apiKey,
		baseURL:   finnhubBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   ratelimit.NewLimiter("finnhub", rateLimitPerMin),
		rateLimit: rateLimitPerMin,
		loc:       loc,
	}
}

// Name returns the provider name
func (p *FinnhubProvider) Name() string {
	return "finnhub"
}

// IsAvailable checks if the provider has an API key
func (p *FinnhubProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// RateLimit returns the rate limit per minute
func (p *FinnhubProvider) RateLimit() int {
	return p.rateLimit
}

// finnhubCandle represents the Finnhub candle response
type finnhubCandle struct {
	C []float64 `json:"c"` // Close prices
	H []float64 `json:"h"` // High prices
	L []float64 `json:"l"` // Low prices
	O []float64 `json:"o"` // Open prices
	S string    `json:"s"` // Status
	T []int64   `json:"t"` // Timestamps
	V []float64 `json:"v"` // Volumes
}

// finnhubResolution maps a query to a candle resolution (1, 5, 15, 30, 60, D, W, M)
func finnhubResolution(q model.BarQuery) (string, error) {
	switch q.Unit {
	case model.Minute:
		switch q.Multiplier {
		case 1, 5, 15, 30, 60:
			return fmt.Sprintf("%d", q.Multiplier), nil
		}
	case model.Hour:
		if q.Multiplier == 1 {
			return "60", nil
		}
	case model.Day:
		if q.Multiplier == 1 {
			return "D", nil
		}
	}
	return "", fmt.Errorf("unsupported resolution %d %s", q.Multiplier, q.Unit)
}

// GetBars fetches stock candles for the query window
func (p *FinnhubProvider) GetBars(ctx context.Context, q model.BarQuery) ([]model.Candle, error) {
	resolution, err := finnhubResolution(q)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: false}
	}

	from, to := queryBounds(q, p.loc)
	u := fmt.Sprintf("%s/stock/candle?symbol=%s&resolution=%s&from=%d&to=%d&token=%s",
		p.baseURL, url.QueryEscape(q.Symbol), resolution, from.Unix(), to.Unix(), url.QueryEscape(p.apiKey))

	var data finnhubCandle
	if err := getJSON(ctx, p.client, p.limiter, p.Name(), u, nil, &data); err != nil {
		return nil, err
	}

	switch data.S {
	case "ok":
	case "no_data", "":
		return nil, nil
	default:
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("status %q", data.S), Retryable: false}
	}

	n := min(len(data.T), len(data.O), len(data.H), len(data.L), len(data.C))
	candles := make([]model.Candle, 0, n)
	for i := 0; i < n; i++ {
		var volume int64
		if i < len(data.V) {
			volume = int64(data.V[i])
		}
		candles = append(candles, model.Candle{
			Time:   time.Unix(data.T[i], 0),
			Open:   data.O[i],
			High:   data.H[i],
			Low:    data.L[i],
			Close:  data.C[i],
			Volume: volume,
		})
	}

	if len(candles) == 0 {
		return nil, nil
	}
	return model.NormalizeCandles(candles, p.loc, q.Unit.Intraday()), nil
}
