package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"picksim/internal/ratelimit"
	"picksim/pkg/model"
)

// alpacaBarsClient is the part of marketdata.Client used here
type alpacaBarsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaProvider implements the Provider interface for Alpaca market data v2
type AlpacaProvider struct {
	client    alpacaBarsClient
	available bool
	feed      marketdata.Feed
	limiter   *ratelimit.Limiter
	rateLimit int
	loc       *time.Location
}

// NewAlpacaProvider creates a new Alpaca provider. feed is "iex" on the free
// plan and "sip" with a subscription; empty leaves the account default.
func NewAlpacaProvider(apiKey, apiSecret, feed string, rateLimitPerMin int, loc *time.Location) *AlpacaProvider {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
	p := newAlpacaProvider(client, feed, rateLimitPerMin, loc)
	p.available = apiKey != "" && apiSecret != ""
	return p
}

func newAlpacaProvider(client alpacaBarsClient, feed string, rateLimitPerMin int, loc *time.Location) *AlpacaProvider {
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}
	if loc == nil {
		loc = MarketLocation()
	}
	return &AlpacaProvider{
		client:    client,
		available: true,
		feed:      marketdata.Feed(feed),
		limiter:   ratelimit.NewLimiter("alpaca", rateLimitPerMin),
		rateLimit: rateLimitPerMin,
		loc:       loc,
	}
}

// Name returns the provider name
func (p *AlpacaProvider) Name() string {
	return "alpaca"
}

// IsAvailable checks if the provider has API credentials
func (p *AlpacaProvider) IsAvailable() bool {
	return p.available
}

// RateLimit returns the rate limit per minute
func (p *AlpacaProvider) RateLimit() int {
	return p.rateLimit
}

func alpacaTimeFrame(q model.BarQuery) (marketdata.TimeFrame, error) {
	switch q.Unit {
	case model.Minute:
		return marketdata.NewTimeFrame(q.Multiplier, marketdata.Min), nil
	case model.Hour:
		return marketdata.NewTimeFrame(q.Multiplier, marketdata.Hour), nil
	case model.Day:
		return marketdata.NewTimeFrame(q.Multiplier, marketdata.Day), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported timespan %q", q.Unit)
}

// GetBars fetches split-adjusted bars for the query window. The SDK pages
// internally.
func (p *AlpacaProvider) GetBars(ctx context.Context, q model.BarQuery) ([]model.Candle, error) {
	tf, err := alpacaTimeFrame(q)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: false}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	from, to := queryBounds(q, p.loc)
	bars, err := p.client.GetBars(q.Symbol, marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Adjustment: marketdata.Split,
		Start:      from,
		End:        to,
		Feed:       p.feed,
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: true}
	}

	if len(bars) == 0 {
		return nil, nil
	}

	candles := make([]model.Candle, len(bars))
	for i, b := range bars {
		candles[i] = model.Candle{
			Time:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		}
	}
	return model.NormalizeCandles(candles, p.loc, q.Unit.Intraday()), nil
}
