package simulator

import (
	"sort"
	"time"

	"picksim/pkg/model"
)

// SequencedBar is a bar of the tradable path addressed by its position.
// TimestampSeq is the rank across the whole path, DaySeq the rank of the
// bar's date among retained trading days, IntervalSeq the rank within its
// day. All three are 0-based.
type SequencedBar struct {
	model.Candle
	TimestampSeq int `json:"trading_timestamp_sequence"`
	DaySeq       int `json:"trading_day_sequence"`
	IntervalSeq  int `json:"trading_interval_sequence"`
}

// Path is the authoritative tradable path of one simulation.
// Bars[i].TimestampSeq == i.
type Path struct {
	Bars []SequencedBar
	Days []time.Time // retained trading days, ascending
}

// Entry returns the synthetic entry bar
func (p Path) Entry() SequencedBar {
	return p.Bars[0]
}

// Last returns the final bar of the path
func (p Path) Last() SequencedBar {
	return p.Bars[len(p.Bars)-1]
}

// PreparePath trims raw bars to the tradable window and sequences them:
//  1. bars on or before the pick date are dropped
//  2. only the first limit distinct trading days are kept
//  3. on the first kept day, bars before opts.EntryAfter are dropped
func PreparePath(bars []model.Candle, pickDate time.Time, limit int, opts Options) (Path, error) {
	opts = opts.withDefaults()
	loc := opts.Location
	pickDay := model.CalendarDate(pickDate, loc)

	after := make([]model.Candle, 0, len(bars))
	for _, b := range bars {
		if model.DateOf(b.Time, loc).After(pickDay) {
			after = append(after, b)
		}
	}
	if len(after) == 0 {
		return Path{}, &pathError{kind: ErrInsufficientPath, msg: "No data available after the pick date"}
	}
	sort.SliceStable(after, func(i, j int) bool {
		return after[i].Time.Before(after[j].Time)
	})

	// Distinct trading days in ascending order (bars are sorted)
	var days []time.Time
	dayIndex := make(map[string]int)
	for _, b := range after {
		d := model.DateOf(b.Time, loc)
		key := d.Format(model.DateLayout)
		if _, seen := dayIndex[key]; seen {
			continue
		}
		if len(days) == limit {
			break
		}
		dayIndex[key] = len(days)
		days = append(days, d)
	}

	path := Path{Days: days}
	intervals := make([]int, len(days))
	for _, b := range after {
		day, ok := dayIndex[model.DateOf(b.Time, loc).Format(model.DateLayout)]
		if !ok {
			continue
		}
		if day == 0 && model.TimeOfDay(b.Time, loc) < opts.EntryAfter {
			continue
		}
		path.Bars = append(path.Bars, SequencedBar{
			Candle:       b,
			TimestampSeq: len(path.Bars),
			DaySeq:       day,
			IntervalSeq:  intervals[day],
		})
		intervals[day]++
	}

	if len(path.Bars) == 0 {
		return Path{}, &pathError{kind: ErrInsufficientPath, msg: "Insufficient data after morning exclusion"}
	}
	return path, nil
}
