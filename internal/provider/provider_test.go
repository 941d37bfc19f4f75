package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picksim/pkg/model"
)

func ny(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func testQuery(t *testing.T) model.BarQuery {
	return model.BarQuery{
		Symbol:       "AAPL",
		End:          time.Date(2024, 3, 24, 0, 0, 0, 0, ny(t)),
		LookbackDays: 20,
		Multiplier:   5,
		Unit:         model.Minute,
	}
}

// stubProvider returns canned bars and counts calls
type stubProvider struct {
	name      string
	bars      []model.Candle
	err       error
	available bool
	calls     int
}

func (s *stubProvider) Name() string      { return s.name }
func (s *stubProvider) IsAvailable() bool { return s.available }
func (s *stubProvider) RateLimit() int    { return 60 }

func (s *stubProvider) GetBars(context.Context, model.BarQuery) ([]model.Candle, error) {
	s.calls++
	return s.bars, s.err
}

func someBars(t *testing.T) []model.Candle {
	return []model.Candle{
		{Time: time.Date(2024, 3, 5, 9, 30, 0, 0, ny(t)), Open: 10, High: 10.2, Low: 9.9, Close: 10.1},
	}
}

func TestPolygonFollowsNextURL(t *testing.T) {
	loc := ny(t)
	// 2024-03-05 is EST: 09:30 local is 14:30 UTC
	open := time.Date(2024, 3, 5, 9, 30, 0, 0, loc).UnixMilli()
	step := (5 * time.Minute).Milliseconds()
	premarket := time.Date(2024, 3, 5, 8, 0, 0, 0, loc).UnixMilli()

	var srvURL string
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("apiKey"))
		if r.URL.Query().Get("cursor") == "" {
			assert.Equal(t, "true", r.URL.Query().Get("adjusted"))
			assert.Equal(t, "asc", r.URL.Query().Get("sort"))
			fmt.Fprintf(w, `{"status":"OK","results":[
				{"t":%d,"o":10,"h":10.5,"l":9.8,"c":10.2,"v":1200},
				{"t":%d,"o":9,"h":9,"l":9,"c":9,"v":10}
			],"next_url":"%s/page2?cursor=abc"}`, open, premarket, srvURL)
			return
		}
		fmt.Fprintf(w, `{"status":"OK","results":[
			{"t":%d,"o":10.2,"h":10.3,"l":10.1,"c":10.25,"v":800.5},
			{"t":%d,"o":99,"h":99,"l":99,"c":99,"v":1}
		]}`, open+step, open)
	}))
	defer srv.Close()
	srvURL = srv.URL

	p := NewPolygonProvider("secret", 6000, loc)
	p.baseURL = srv.URL

	bars, err := p.GetBars(context.Background(), testQuery(t))
	require.NoError(t, err)

	require.Len(t, paths, 2)
	assert.Equal(t, "/v2/aggs/ticker/AAPL/range/5/minute/2024-03-04/2024-03-24", paths[0])
	assert.Equal(t, "/page2", paths[1])

	// premarket bar dropped, duplicate timestamp keeps the first occurrence
	require.Len(t, bars, 2)
	assert.Equal(t, 10.0, bars[0].Open)
	assert.Equal(t, loc, bars[0].Time.Location())
	assert.Equal(t, 9, bars[0].Time.Hour())
	assert.Equal(t, 30, bars[0].Time.Minute())
	assert.Equal(t, int64(800), bars[1].Volume)
}

func TestPolygonPageLimit(t *testing.T) {
	var srvURL string
	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		ts := time.Date(2024, 3, 5, 9, 30, 0, 0, ny(t)).Add(time.Duration(pages) * time.Minute).UnixMilli()
		fmt.Fprintf(w, `{"status":"OK","results":[{"t":%d,"o":10,"h":10,"l":10,"c":10,"v":1}],"next_url":"%s/next?cursor=%d"}`,
			ts, srvURL, pages)
	}))
	defer srv.Close()
	srvURL = srv.URL

	p := NewPolygonProvider("secret", 6000, ny(t))
	p.baseURL = srv.URL
	p.maxPages = 3

	bars, err := p.GetBars(context.Background(), testQuery(t))
	require.Error(t, err)
	assert.Nil(t, bars)
	assert.Contains(t, err.Error(), "3 pages")
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 3, pages)
}

func TestPolygonNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"OK","resultsCount":0}`)
	}))
	defer srv.Close()

	p := NewPolygonProvider("secret", 6000, ny(t))
	p.baseURL = srv.URL

	bars, err := p.GetBars(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Nil(t, bars)
}

func TestPolygonHTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"forbidden", http.StatusForbidden, false},
		{"server error", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewPolygonProvider("secret", 6000, ny(t))
			p.baseURL = srv.URL

			_, err := p.GetBars(context.Background(), testQuery(t))
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "polygon", pe.Provider)
			assert.Equal(t, tt.retryable, pe.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestPolygonRateLimitSignalsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewPolygonProvider("secret", 6000, ny(t))
	p.baseURL = srv.URL

	_, err := p.GetBars(context.Background(), testQuery(t))
	require.Error(t, err)
	assert.Positive(t, p.limiter.GetBackoff())
}

func TestPolygonDefaults(t *testing.T) {
	p := NewPolygonProvider("", 0, nil)
	assert.False(t, p.IsAvailable())
	assert.Equal(t, 5, p.RateLimit())
	assert.Equal(t, 12*time.Second, p.limiter.Interval())
}

func TestYahooSkipsNullIntervals(t *testing.T) {
	loc := ny(t)
	t0 := time.Date(2024, 3, 5, 9, 30, 0, 0, loc).Unix()
	t1 := t0 + 300
	t2 := t0 + 600

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/AAPL", r.URL.Path)
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprintf(w, `{"chart":{"result":[{"meta":{"symbol":"AAPL"},
			"timestamp":[%d,%d,%d],
			"indicators":{"quote":[{
				"open":[10,null,10.4],"high":[10.5,null,10.6],
				"low":[9.9,null,10.3],"close":[10.2,null,10.5],
				"volume":[100,null,null]}]}}],"error":null}}`, t0, t1, t2)
	}))
	defer srv.Close()

	p := NewYahooProvider(loc)
	p.baseURL = srv.URL

	bars, err := p.GetBars(context.Background(), testQuery(t))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(100), bars[0].Volume)
	assert.Equal(t, 10.4, bars[1].Open)
	assert.Zero(t, bars[1].Volume)
}

func TestYahooChartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	}))
	defer srv.Close()

	p := NewYahooProvider(ny(t))
	p.baseURL = srv.URL

	_, err := p.GetBars(context.Background(), testQuery(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delisted")
	assert.False(t, IsRetryable(err))
}

func TestFinnhub(t *testing.T) {
	loc := ny(t)
	t0 := time.Date(2024, 3, 5, 9, 35, 0, 0, loc).Unix()

	status := "ok"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock/candle", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("resolution"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		if status != "ok" {
			fmt.Fprintf(w, `{"s":%q}`, status)
			return
		}
		fmt.Fprintf(w, `{"s":"ok","t":[%d],"o":[10],"h":[11],"l":[9],"c":[10.5],"v":[42]}`, t0)
	}))
	defer srv.Close()

	p := NewFinnhubProvider("token", 6000, loc)
	p.baseURL = srv.URL

	bars, err := p.GetBars(context.Background(), testQuery(t))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int64(42), bars[0].Volume)

	status = "no_data"
	bars, err = p.GetBars(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Nil(t, bars)
}

func TestFinnhubResolution(t *testing.T) {
	q := testQuery(t)
	q.Multiplier = 7
	_, err := finnhubResolution(q)
	assert.Error(t, err)

	q.Multiplier, q.Unit = 1, model.Day
	res, err := finnhubResolution(q)
	require.NoError(t, err)
	assert.Equal(t, "D", res)
}

type fakeAlpaca struct {
	got  marketdata.GetBarsRequest
	bars []marketdata.Bar
	err  error
}

func (f *fakeAlpaca) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.got = req
	return f.bars, f.err
}

func TestAlpacaRequest(t *testing.T) {
	loc := ny(t)
	fake := &fakeAlpaca{bars: []marketdata.Bar{
		{Timestamp: time.Date(2024, 3, 5, 14, 35, 0, 0, time.UTC), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 500},
		{Timestamp: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), Open: 9.9, High: 10, Low: 9.8, Close: 10, Volume: 300},
	}}
	p := newAlpacaProvider(fake, "iex", 6000, loc)

	bars, err := p.GetBars(context.Background(), testQuery(t))
	require.NoError(t, err)

	assert.Equal(t, marketdata.NewTimeFrame(5, marketdata.Min), fake.got.TimeFrame)
	assert.Equal(t, marketdata.Split, fake.got.Adjustment)
	assert.Equal(t, marketdata.Feed("iex"), fake.got.Feed)
	assert.True(t, fake.got.Start.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, loc)))
	assert.True(t, fake.got.End.Equal(time.Date(2024, 3, 25, 0, 0, 0, 0, loc)))

	require.Len(t, bars, 2)
	assert.Equal(t, 9.9, bars[0].Open)
	assert.Equal(t, 9, bars[0].Time.Hour())
	assert.Equal(t, int64(500), bars[1].Volume)
}

func TestAlpacaErrorIsRetryable(t *testing.T) {
	p := newAlpacaProvider(&fakeAlpaca{err: errors.New("connection reset")}, "", 6000, ny(t))
	_, err := p.GetBars(context.Background(), testQuery(t))
	assert.True(t, IsRetryable(err))
}

func TestFallbackFirstNonEmptyWins(t *testing.T) {
	failing := &stubProvider{name: "a", err: errors.New("boom"), available: true}
	empty := &stubProvider{name: "b", available: true}
	full := &stubProvider{name: "c", bars: someBars(t), available: true}
	unused := &stubProvider{name: "d", bars: someBars(t), available: true}

	f := NewFallbackProvider(failing, empty, full, unused)
	bars, err := f.GetBars(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 0, unused.calls)
}

func TestFallbackAllEmptyIsNoData(t *testing.T) {
	f := NewFallbackProvider(
		&stubProvider{name: "a", available: true},
		&stubProvider{name: "b", available: true},
	)
	bars, err := f.GetBars(context.Background(), testQuery(t))
	assert.NoError(t, err)
	assert.Nil(t, bars)
}

func TestFallbackReturnsLastError(t *testing.T) {
	last := errors.New("second")
	f := NewFallbackProvider(
		&stubProvider{name: "a", err: errors.New("first"), available: true},
		&stubProvider{name: "b", err: last, available: true},
	)
	_, err := f.GetBars(context.Background(), testQuery(t))
	assert.ErrorIs(t, err, last)
}

func TestFallbackSkipsUnavailable(t *testing.T) {
	off := &stubProvider{name: "off", bars: someBars(t)}
	on := &stubProvider{name: "on", bars: someBars(t), available: true}

	f := NewFallbackProvider(off, on)
	assert.Len(t, f.Providers(), 1)
	assert.Equal(t, "on", f.Name())

	_, err := f.GetBars(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 0, off.calls)
	assert.False(t, NewFallbackProvider(off).IsAvailable())
}

func TestCachingProvider(t *testing.T) {
	inner := &stubProvider{name: "stub", bars: someBars(t), available: true}
	cache := NewMemoryCache()
	p := NewCachingProvider(inner, cache)

	q := testQuery(t)
	for i := 0; i < 3; i++ {
		bars, err := p.GetBars(context.Background(), q)
		require.NoError(t, err)
		assert.Len(t, bars, 1)
	}
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, cache.Len())

	// a different window is a different key
	q.LookbackDays = 30
	_, err := p.GetBars(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachingProviderSkipsEmpty(t *testing.T) {
	inner := &stubProvider{name: "stub", available: true}
	cache := NewMemoryCache()
	p := NewCachingProvider(inner, cache)

	for i := 0; i < 2; i++ {
		bars, err := p.GetBars(context.Background(), testQuery(t))
		require.NoError(t, err)
		assert.Nil(t, bars)
	}
	assert.Equal(t, 2, inner.calls)
	assert.Zero(t, cache.Len())
}
