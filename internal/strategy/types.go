// Package strategy holds the closed set of signal strategies evaluated by
// SIGNAL_CHECK jobs.
package strategy

// Action is what a signal asks the execution router to do.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether a is one of BUY, SELL, HOLD.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// Signal is a decision emitted by a strategy. Price 0 means "use the last
// market price".
type Signal struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Size       float64 `json:"size"`
	Price      float64 `json:"price,omitempty"`
	Strategy   string  `json:"strategy,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// Hold is a no-op signal.
func Hold(strategy, note string) Signal {
	return Signal{Action: ActionHold, Strategy: strategy, Note: note}
}

// Strategy is the capability every variant implements. Evaluate is called
// once per price observation and must be safe for concurrent use.
type Strategy interface {
	Name() string
	Evaluate(symbol string, price float64) Signal
}
