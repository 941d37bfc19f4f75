package model

import (
	"sort"
	"strconv"
	"time"
)

// DateLayout is the calendar date format used by pick lists and CLI flags
const DateLayout = "2006-01-02"

// Candle represents a single candlestick (OHLCV data)
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Timespan is the unit of a bar aggregation
type Timespan string

const (
	Minute Timespan = "minute"
	Hour   Timespan = "hour"
	Day    Timespan = "day"
)

// Intraday reports whether bars of this unit carry a time of day
func (t Timespan) Intraday() bool {
	return t == Minute || t == Hour
}

// BarQuery describes a bar request: the window is [End-LookbackDays, End]
// in calendar days, aggregated to Multiplier x Unit bars.
type BarQuery struct {
	Symbol       string
	End          time.Time
	LookbackDays int
	Multiplier   int
	Unit         Timespan
}

// Start returns the first calendar day of the query window
func (q BarQuery) Start() time.Time {
	return q.End.AddDate(0, 0, -q.LookbackDays)
}

// Key returns a stable identifier for caching
func (q BarQuery) Key() string {
	return q.Symbol + "|" + q.Start().Format(DateLayout) + "|" + q.End.Format(DateLayout) +
		"|" + strconv.Itoa(q.Multiplier) + "|" + string(q.Unit)
}

// Pick is one row of the external pick list
type Pick struct {
	Date       time.Time         `json:"date"`
	Ticker     string            `json:"ticker"`
	Sector     string            `json:"sector"`
	Price      float64           `json:"price"`
	MarketCap  float64           `json:"mcap"`
	PositiveMG bool              `json:"is_positive_mg"`
	Processed  bool              `json:"is_processed"`
	Extra      map[string]string `json:"extra,omitempty"` // untouched input columns
}

// DateOf returns midnight of t's calendar date in loc
func DateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// CalendarDate returns midnight in loc of the calendar date t carries in
// its own location. Use it for dates, DateOf for instants.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// TimeOfDay returns the offset of t from midnight in loc
func TimeOfDay(t time.Time, loc *time.Location) time.Duration {
	t = t.In(loc)
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// Regular US session bounds, both inclusive
const (
	SessionOpen  = 9*time.Hour + 30*time.Minute
	SessionClose = 16 * time.Hour
)

// NormalizeCandles converts candles to loc, sorts them ascending and drops
// duplicate timestamps (first occurrence wins). When intraday is set, bars
// outside the regular session are dropped as well.
func NormalizeCandles(candles []Candle, loc *time.Location, intraday bool) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		c.Time = c.Time.In(loc)
		if intraday {
			tod := TimeOfDay(c.Time, loc)
			if tod < SessionOpen || tod > SessionClose {
				continue
			}
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})

	deduped := out[:0]
	for i, c := range out {
		if i > 0 && c.Time.Equal(deduped[len(deduped)-1].Time) {
			continue
		}
		deduped = append(deduped, c)
	}
	return deduped
}
