package simulator

import "fmt"

// ExitRule is one rung of the TP/SL ladder. It applies to bars whose
// trading-day index lies in [StartDay, EndDay].
type ExitRule struct {
	TakeProfit float64 `yaml:"take_profit" json:"take_profit"` // multiplier on the buy price, > 1
	StopLoss   float64 `yaml:"stop_loss" json:"stop_loss"`     // multiplier on the buy price, in (0, 1)
	StartDay   int     `yaml:"start_day" json:"start_day"`
	EndDay     int     `yaml:"end_day" json:"end_day"`
}

// Covers reports whether the rule applies on the given trading day
func (r ExitRule) Covers(day int) bool {
	return day >= r.StartDay && day <= r.EndDay
}

// Validate checks the rule bounds
func (r ExitRule) Validate() error {
	if r.TakeProfit <= 1.0 {
		return fmt.Errorf("take profit multiplier must be > 1.0, got %g", r.TakeProfit)
	}
	if r.StopLoss <= 0 || r.StopLoss >= 1.0 {
		return fmt.Errorf("stop loss multiplier must be in (0, 1), got %g", r.StopLoss)
	}
	if r.StartDay < 0 || r.EndDay < r.StartDay {
		return fmt.Errorf("invalid day range [%d, %d]", r.StartDay, r.EndDay)
	}
	return nil
}

// Ladder is the ordered list of exit rules for a run
type Ladder []ExitRule

// Validate checks every rule in the ladder
func (l Ladder) Validate() error {
	for i, r := range l {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

// DefaultLadder returns the standard 15% / 10% ladder split into day 0-1,
// day 2-3 and day 4 through the end of the holding period.
func DefaultLadder(tradingDays int) Ladder {
	last := tradingDays - 1
	if last < 4 {
		last = 4
	}
	return Ladder{
		{TakeProfit: 1.15, StopLoss: 0.90, StartDay: 0, EndDay: 1},
		{TakeProfit: 1.15, StopLoss: 0.90, StartDay: 2, EndDay: 3},
		{TakeProfit: 1.15, StopLoss: 0.90, StartDay: 4, EndDay: last},
	}
}
