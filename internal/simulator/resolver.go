package simulator

import "math"

// noBreach marks a condition that never fired
const noBreach = math.MaxInt

// Resolve races take-profit, stop-loss and trailing-stop breaches over the
// path and returns the earliest exit, or the end-of-holding exit when none
// fires. On a tie at the same bar take-profit wins over stop-loss, and
// stop-loss over trailing-stop. The path must be non-empty.
func Resolve(path Path, ladder Ladder, limit int, trailingPct float64) Outcome {
	entry := path.Entry()
	buy := entry.Open

	tp := firstBreach(path.Bars, func(b SequencedBar) bool {
		return ladder.takeProfitHit(b.DaySeq, b.High, buy)
	})
	sl := firstBreach(path.Bars, func(b SequencedBar) bool {
		return ladder.stopLossHit(b.DaySeq, b.Low, buy)
	})
	ts := trailingStop(path.Bars, trailingPct)

	var (
		exit    SequencedBar
		sell    float64
		trigger Trigger
	)
	switch first := min(tp, sl, ts.breach); {
	case first == noBreach:
		exit = holdingExit(path, limit)
		sell, trigger = exit.Open, TriggerHoldingPeriod
	case first == tp:
		exit = path.Bars[tp]
		sell, trigger = exit.High, TriggerTakeProfit
	case first == sl:
		exit = path.Bars[sl]
		sell, trigger = exit.Low, TriggerStopLoss
	default:
		exit = path.Bars[ts.breach]
		sell, trigger = ts.price, TriggerTrailingStop
	}

	return Outcome{
		BuyPrice:     buy,
		BuyTime:      entry.Time,
		SellPrice:    sell,
		SellTime:     exit.Time,
		ReturnPct:    (sell/buy - 1) * 100,
		TimestampSeq: exit.TimestampSeq,
		DaySeq:       exit.DaySeq,
		IntervalSeq:  exit.IntervalSeq,
		Trigger:      trigger,
	}
}

func (l Ladder) takeProfitHit(day int, high, buy float64) bool {
	for _, r := range l {
		if r.Covers(day) && high >= buy*r.TakeProfit {
			return true
		}
	}
	return false
}

func (l Ladder) stopLossHit(day int, low, buy float64) bool {
	for _, r := range l {
		if r.Covers(day) && low <= buy*r.StopLoss {
			return true
		}
	}
	return false
}

// firstBreach returns the TimestampSeq of the first bar matching hit
func firstBreach(bars []SequencedBar, hit func(SequencedBar) bool) int {
	for _, b := range bars {
		if hit(b) {
			return b.TimestampSeq
		}
	}
	return noBreach
}

// trailState is the accumulator of the trailing-stop scan
type trailState struct {
	peak   float64 // highest high up to and including the last folded bar
	breach int     // TimestampSeq of the breach bar, noBreach until one occurs
	price  float64 // trigger price at the breach bar
}

func (s trailState) breached() bool {
	return s.breach != noBreach
}

// fold advances the scan by one bar. The trigger price of a bar uses the
// peak including that bar's own high.
func (s trailState) fold(b SequencedBar, pct float64) trailState {
	if b.TimestampSeq == 0 || b.High > s.peak {
		s.peak = b.High
	}
	trigger := s.peak * (1 - pct)
	if b.Low <= trigger {
		s.breach = b.TimestampSeq
		s.price = trigger
	}
	return s
}

// trailingStop folds bars until the first breach. A non-positive pct
// disables the trailing stop.
func trailingStop(bars []SequencedBar, pct float64) trailState {
	s := trailState{breach: noBreach}
	if pct <= 0 {
		return s
	}
	for _, b := range bars {
		if s = s.fold(b, pct); s.breached() {
			break
		}
	}
	return s
}

// holdingExit picks the first bar of the last retained day, falling back to
// the last bar of the path.
func holdingExit(path Path, limit int) SequencedBar {
	for _, b := range path.Bars {
		if b.DaySeq == limit-1 && b.IntervalSeq == 0 {
			return b
		}
	}
	return path.Last()
}
