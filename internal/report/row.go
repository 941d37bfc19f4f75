// Package report turns simulation results into rows, summary statistics
// and table, CSV or JSON output.
package report

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"picksim/internal/simulator"
	"picksim/pkg/model"
)

// TimestampLayout formats buy and sell times
const TimestampLayout = "2006-01-02 15:04:05"

const (
	pricePlaces  = 4
	returnPlaces = 2
)

// Row is one exported line: the pick followed by its outcome
type Row struct {
	Date         string          `json:"date"`
	Ticker       string          `json:"ticker"`
	Sector       string          `json:"sector"`
	Price        float64         `json:"price"`
	MarketCap    float64         `json:"mcap"`
	PositiveMG   bool            `json:"is_positive_mg"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	ReturnPct    decimal.Decimal `json:"returns_percentage"`
	BuyTime      string          `json:"buy_timestamp"`
	SellTime     string          `json:"sell_timestamp"`
	TimestampSeq int             `json:"trading_timestamp_sequence"`
	DaySeq       int             `json:"trading_day_sequence"`
	IntervalSeq  int             `json:"trading_interval_sequence"`
	Trigger      string          `json:"trigger"`
	Error        string          `json:"error,omitempty"`
}

// Columns lists the exported column names in Values order
func Columns() []string {
	return []string{
		"date", "ticker", "sector", "price", "mcap", "is_positive_mg",
		"buy_price", "sell_price", "returns_percentage", "buy_timestamp", "sell_timestamp",
		"trading_timestamp_sequence", "trading_day_sequence", "trading_interval_sequence",
		"trigger",
	}
}

// NewRow merges a pick with its result. Prices keep 4 decimals and the
// return 2; a failed result leaves the outcome columns empty.
func NewRow(p model.Pick, res simulator.Result) Row {
	r := Row{
		Date:       p.Date.Format(model.DateLayout),
		Ticker:     p.Ticker,
		Sector:     p.Sector,
		Price:      p.Price,
		MarketCap:  p.MarketCap,
		PositiveMG: p.PositiveMG,
	}
	if r.Ticker == "" {
		r.Ticker = res.Symbol
		r.Date = res.PickDate.Format(model.DateLayout)
	}

	if !res.OK() {
		if res.Failure != nil {
			r.Error = res.Failure.Message
		}
		return r
	}

	o := res.Outcome
	for _, x := range []float64{o.BuyPrice, o.SellPrice, o.ReturnPct} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			r.Error = fmt.Sprintf("non-finite outcome (buy %v, sell %v, return %v)", o.BuyPrice, o.SellPrice, o.ReturnPct)
			return r
		}
	}
	r.BuyPrice = decimal.NewFromFloat(o.BuyPrice).Round(pricePlaces)
	r.SellPrice = decimal.NewFromFloat(o.SellPrice).Round(pricePlaces)
	r.ReturnPct = decimal.NewFromFloat(o.ReturnPct).Round(returnPlaces)
	r.BuyTime = o.BuyTime.Format(TimestampLayout)
	r.SellTime = o.SellTime.Format(TimestampLayout)
	r.TimestampSeq = o.TimestampSeq
	r.DaySeq = o.DaySeq
	r.IntervalSeq = o.IntervalSeq
	r.Trigger = string(o.Trigger)
	return r
}

// OK reports whether the row carries an outcome
func (r Row) OK() bool {
	return r.Error == ""
}

// Values returns the row as strings in Columns order
func (r Row) Values() []string {
	mg := "0"
	if r.PositiveMG {
		mg = "1"
	}
	var buy, sell, ret, ts, day, interval string
	if r.OK() {
		buy = r.BuyPrice.StringFixed(pricePlaces)
		sell = r.SellPrice.StringFixed(pricePlaces)
		ret = r.ReturnPct.StringFixed(returnPlaces)
		ts = strconv.Itoa(r.TimestampSeq)
		day = strconv.Itoa(r.DaySeq)
		interval = strconv.Itoa(r.IntervalSeq)
	}
	return []string{
		r.Date, r.Ticker, r.Sector,
		strconv.FormatFloat(r.Price, 'f', -1, 64),
		strconv.FormatFloat(r.MarketCap, 'f', -1, 64),
		mg,
		buy, sell, ret, r.BuyTime, r.SellTime,
		ts, day, interval,
		r.Trigger,
	}
}

// SuccessfulRows keeps the rows that carry an outcome
func SuccessfulRows(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}
