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

const (
	polygonBaseURL = "https://api.polygon.io"

	// free tier allowance
	polygonFreeRate = 5

	polygonMaxPages = 50
)

// PolygonProvider implements the Provider interface for Polygon.io aggregates
type PolygonProvider struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	limiter   *ratelimit.Limiter
	rateLimit int
	maxPages  int
	loc       *time.Location
}

// NewPolygonProvider creates a new Polygon provider. A rateLimitPerMin of
// zero uses the free tier allowance.
func NewPolygonProvider(apiKey string, rateLimitPerMin int, loc *time.Location) *PolygonProvider {
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = polygonFreeRate
	}
	if loc == nil {
		loc = MarketLocation()
	}
	return &PolygonProvider{
		apiKey:    apiKey,
		baseURL:   polygonBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   ratelimit.NewLimiter("polygon", rateLimitPerMin),
		rateLimit: rateLimitPerMin,
		maxPages:  polygonMaxPages,
		loc:       loc,
	}
}

// Name returns the provider name
func (p *PolygonProvider) Name() string {
	return "polygon"
}

// IsAvailable checks if the provider has an API key
func (p *PolygonProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// RateLimit returns the rate limit per minute
func (p *PolygonProvider) RateLimit() int {
	return p.rateLimit
}

// polygonAggs is one page of the aggregates endpoint
type polygonAggs struct {
	Ticker       string `json:"ticker"`
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		T int64   `json:"t"` // bar start, unix ms
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	} `json:"results"`
	NextURL string `json:"next_url"`
	Error   string `json:"error"`
}

func (p *PolygonProvider) aggsURL(q model.BarQuery) string {
	// both ends are inclusive calendar dates
	from := model.DateOf(q.Start(), p.loc).Format(model.DateLayout)
	to := model.DateOf(q.End, p.loc).Format(model.DateLayout)
	return fmt.Sprintf("%s/v2/aggs/ticker/%s/range/%d/%s/%s/%s?adjusted=true&sort=asc&limit=50000&apiKey=%s",
		p.baseURL, url.PathEscape(q.Symbol), q.Multiplier, q.Unit, from, to, url.QueryEscape(p.apiKey))
}

// GetBars fetches aggregates for q, following next_url pages
func (p *PolygonProvider) GetBars(ctx context.Context, q model.BarQuery) ([]model.Candle, error) {
	var candles []model.Candle

	next := p.aggsURL(q)
	for page := 0; next != ""; page++ {
		if page == p.maxPages {
			return nil, &ProviderError{
				Provider:  p.Name(),
				Err:       fmt.Errorf("%s still paging after %d pages, refusing a truncated path", q.Symbol, p.maxPages),
				Retryable: false,
			}
		}

		var data polygonAggs
		if err := getJSON(ctx, p.client, p.limiter, p.Name(), next, nil, &data); err != nil {
			return nil, err
		}
		if data.Status == "ERROR" || data.Status == "NOT_AUTHORIZED" {
			return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s: %s", data.Status, data.Error), Retryable: false}
		}

		for _, r := range data.Results {
			candles = append(candles, model.Candle{
				Time:   time.UnixMilli(r.T),
				Open:   r.O,
				High:   r.H,
				Low:    r.L,
				Close:  r.C,
				Volume: int64(r.V),
			})
		}

		next = ""
		if data.NextURL != "" {
			// next_url carries the cursor but not the key
			next = data.NextURL + "&apiKey=" + url.QueryEscape(p.apiKey)
		}
	}

	if len(candles) == 0 {
		return nil, nil
	}
	return model.NormalizeCandles(candles, p.loc, q.Unit.Intraday()), nil
}
