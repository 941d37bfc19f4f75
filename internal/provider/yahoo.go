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

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooProvider implements the Provider interface for Yahoo Finance (unofficial API).
// Yahoo serves 5-minute bars for roughly the last 60 days only.
type YahooProvider struct {
	baseURL   string
	client    *http.Client
	limiter   *ratelimit.Limiter
	rateLimit int
	loc       *time.Location
}

// NewYahooProvider creates a new Yahoo Finance provider
func NewYahooProvider(loc *time.Location) *YahooProvider {
	if loc == nil {
		loc = MarketLocation()
	}
	return &YahooProvider{
		baseURL:   yahooBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   ratelimit.NewLimiter("yahoo", 30), // Conservative rate limit
		rateLimit: 30,
		loc:       loc,
	}
}

// Name returns the provider name
func (p *YahooProvider) Name() string {
	return "yahoo"
}

// IsAvailable always returns true (no API key needed)
func (p *YahooProvider) IsAvailable() bool {
	return true
}

// RateLimit returns the rate limit per minute
func (p *YahooProvider) RateLimit() int {
	return p.rateLimit
}

// yahooResponse represents the Yahoo Finance API response.
// Quote values are pointers because Yahoo emits null for empty intervals.
type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func yahooInterval(q model.BarQuery) (string, error) {
	switch q.Unit {
	case model.Minute:
		return fmt.Sprintf("%dm", q.Multiplier), nil
	case model.Hour:
		return fmt.Sprintf("%dh", q.Multiplier), nil
	case model.Day:
		return fmt.Sprintf("%dd", q.Multiplier), nil
	}
	return "", fmt.Errorf("unsupported timespan %q", q.Unit)
}

// GetBars fetches the chart for the query window
func (p *YahooProvider) GetBars(ctx context.Context, q model.BarQuery) ([]model.Candle, error) {
	interval, err := yahooInterval(q)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: false}
	}

	from, to := queryBounds(q, p.loc)
	u := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=%s&includePrePost=false",
		p.baseURL, url.PathEscape(q.Symbol), from.Unix(), to.Unix(), interval)

	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	var data yahooResponse
	if err := getJSON(ctx, p.client, p.limiter, p.Name(), u, header, &data); err != nil {
		return nil, err
	}

	if data.Chart.Error != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s", data.Chart.Error.Description), Retryable: false}
	}

	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := data.Chart.Result[0]
	quotes := result.Indicators.Quote[0]

	candles := make([]model.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, h, l, c := at(quotes.Open, i), at(quotes.High, i), at(quotes.Low, i), at(quotes.Close, i)
		// Skip intervals without a trade
		if o == nil || h == nil || l == nil || c == nil {
			continue
		}

		var volume int64
		if v := at(quotes.Volume, i); v != nil {
			volume = *v
		}

		candles = append(candles, model.Candle{
			Time:   time.Unix(ts, 0),
			Open:   *o,
			High:   *h,
			Low:    *l,
			Close:  *c,
			Volume: volume,
		})
	}

	if len(candles) == 0 {
		return nil, nil
	}
	return model.NormalizeCandles(candles, p.loc, q.Unit.Intraday()), nil
}

func at[T any](s []*T, i int) *T {
	if i >= len(s) {
		return nil
	}
	return s[i]
}
