package simulator

import (
	"errors"
	"time"
)

// Trigger names the exit condition that closed the simulated position
type Trigger string

const (
	TriggerTakeProfit    Trigger = "Take Profit"
	TriggerStopLoss      Trigger = "Stop Loss"
	TriggerTrailingStop  Trigger = "Trailing Stop"
	TriggerHoldingPeriod Trigger = "End of Holding Period"
)

// Failure kinds. A Failure unwraps to exactly one of these.
var (
	ErrNoData           = errors.New("no data")
	ErrInsufficientPath = errors.New("insufficient path")
	ErrLogic            = errors.New("logic error")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Outcome is the resolved exit of one simulation
type Outcome struct {
	BuyPrice     float64   `json:"buy_price"`
	BuyTime      time.Time `json:"buy_timestamp"`
	SellPrice    float64   `json:"sell_price"`
	SellTime     time.Time `json:"sell_timestamp"`
	ReturnPct    float64   `json:"returns_percentage"`
	TimestampSeq int       `json:"trading_timestamp_sequence"`
	DaySeq       int       `json:"trading_day_sequence"`
	IntervalSeq  int       `json:"trading_interval_sequence"`
	Trigger      Trigger   `json:"trigger"`
}

// Failure describes why a simulation produced no outcome
type Failure struct {
	Kind    error  `json:"-"`
	Message string `json:"error"`
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Kind
}

// Result is the tagged result of a simulation: exactly one of Outcome and
// Failure is set.
type Result struct {
	Symbol   string    `json:"symbol"`
	PickDate time.Time `json:"pick_date"`
	Outcome  *Outcome  `json:"outcome,omitempty"`
	Failure  *Failure  `json:"failure,omitempty"`
}

// OK reports whether the simulation produced an outcome
func (r Result) OK() bool {
	return r.Outcome != nil && r.Failure == nil
}

// Err returns the failure as an error, or nil on success
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

func succeeded(req Request, o Outcome) Result {
	return Result{Symbol: req.Symbol, PickDate: req.PickDate, Outcome: &o}
}

func failed(req Request, kind error, msg string) Result {
	return Result{Symbol: req.Symbol, PickDate: req.PickDate, Failure: &Failure{Kind: kind, Message: msg}}
}

// pathError carries a failure kind out of PreparePath
type pathError struct {
	kind error
	msg  string
}

func (e *pathError) Error() string { return e.msg }
func (e *pathError) Unwrap() error { return e.kind }
