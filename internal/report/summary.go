package report

import (
	"math"

	"picksim/internal/simulator"
)

// Summary aggregates the outcomes of a batch. Return figures are in
// percent of the buy price.
type Summary struct {
	Total     int                       `json:"total"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	ByTrigger map[simulator.Trigger]int `json:"by_trigger"`

	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`

	AvgReturn    float64 `json:"avg_return"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"` // magnitude
	ProfitFactor float64 `json:"profit_factor"`
	Expectancy   float64 `json:"expectancy"`
	StdDev       float64 `json:"std_dev"`

	Best        float64 `json:"best"`
	BestSymbol  string  `json:"best_symbol"`
	Worst       float64 `json:"worst"`
	WorstSymbol string  `json:"worst_symbol"`

	AvgHoldingDays float64 `json:"avg_holding_days"`
	MaxWinStreak   int     `json:"max_win_streak"`
	MaxLoseStreak  int     `json:"max_lose_streak"`
}

// Summarize computes statistics over results in order. A return above zero
// is a win; anything else is a loss.
func Summarize(results []simulator.Result) Summary {
	s := Summary{
		Total:     len(results),
		ByTrigger: make(map[simulator.Trigger]int),
	}

	var (
		totalWin, totalLoss   float64
		winStreak, loseStreak int
		returns               []float64
		holdingDays           int
	)

	for _, res := range results {
		if !res.OK() {
			s.Failed++
			continue
		}
		o := res.Outcome
		s.Succeeded++
		s.ByTrigger[o.Trigger]++
		returns = append(returns, o.ReturnPct)
		holdingDays += o.DaySeq + 1

		if s.Succeeded == 1 || o.ReturnPct > s.Best {
			s.Best, s.BestSymbol = o.ReturnPct, res.Symbol
		}
		if s.Succeeded == 1 || o.ReturnPct < s.Worst {
			s.Worst, s.WorstSymbol = o.ReturnPct, res.Symbol
		}

		if o.ReturnPct > 0 {
			s.Wins++
			totalWin += o.ReturnPct
			winStreak++
			loseStreak = 0
			s.MaxWinStreak = max(s.MaxWinStreak, winStreak)
		} else {
			s.Losses++
			totalLoss += math.Abs(o.ReturnPct)
			loseStreak++
			winStreak = 0
			s.MaxLoseStreak = max(s.MaxLoseStreak, loseStreak)
		}
	}

	if s.Succeeded == 0 {
		return s
	}

	s.WinRate = float64(s.Wins) / float64(s.Succeeded) * 100
	s.AvgReturn = average(returns)
	s.StdDev = stdDev(returns)
	s.AvgHoldingDays = float64(holdingDays) / float64(s.Succeeded)

	if s.Wins > 0 {
		s.AvgWin = totalWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = totalLoss / float64(s.Losses)
	}

	// Expectancy
	s.Expectancy = (s.WinRate/100*s.AvgWin) - ((100-s.WinRate)/100*s.AvgLoss)

	// Profit Factor
	if totalLoss > 0 {
		s.ProfitFactor = totalWin / totalLoss
	}
	return s
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := average(values)
	var sumSquares float64
	for _, v := range values {
		sumSquares += (v - avg) * (v - avg)
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}
