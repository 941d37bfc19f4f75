package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarQueryWindow(t *testing.T) {
	q := BarQuery{
		Symbol:       "AAPL",
		End:          time.Date(2024, 3, 24, 0, 0, 0, 0, time.UTC),
		LookbackDays: 20,
		Multiplier:   5,
		Unit:         Minute,
	}
	assert.Equal(t, "2024-03-04", q.Start().Format(DateLayout))
	assert.Equal(t, "AAPL|2024-03-04|2024-03-24|5|minute", q.Key())

	q.Multiplier = 1
	assert.NotEqual(t, "AAPL|2024-03-04|2024-03-24|5|minute", q.Key())
}

func TestTimespanIntraday(t *testing.T) {
	assert.True(t, Minute.Intraday())
	assert.True(t, Hour.Intraday())
	assert.False(t, Day.Intraday())
}

func TestDateOfAndTimeOfDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 02:30 UTC on the 5th is 21:30 on the 4th in New York
	ts := time.Date(2024, 3, 5, 2, 30, 0, 0, time.UTC)
	assert.True(t, DateOf(ts, loc).Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, loc)))
	assert.Equal(t, 21*time.Hour+30*time.Minute, TimeOfDay(ts, loc))
}

func TestNormalizeCandles(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	at := func(h, m int) time.Time { return time.Date(2024, 3, 5, h, m, 0, 0, loc) }

	in := []Candle{
		{Time: at(9, 35).UTC(), Close: 2},
		{Time: at(9, 25), Close: 0}, // premarket
		{Time: at(9, 30), Close: 1},
		{Time: at(9, 35), Close: 99}, // duplicate
		{Time: at(16, 0), Close: 3},
		{Time: at(16, 5), Close: 0}, // after hours
	}

	out := NormalizeCandles(in, loc, true)
	require.Len(t, out, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{out[0].Close, out[1].Close, out[2].Close})
	assert.Equal(t, loc, out[0].Time.Location())

	daily := NormalizeCandles(in, loc, false)
	assert.Len(t, daily, 5)
}

func TestCalendarDateKeepsTheDate(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	d := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	assert.True(t, CalendarDate(d, loc).Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, loc)))
	// DateOf treats the same value as an instant
	assert.True(t, DateOf(d, loc).Equal(time.Date(2024, 3, 3, 0, 0, 0, 0, loc)))
}
