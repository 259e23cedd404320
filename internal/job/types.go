// Package job implements the typed job queue and the dispatcher that drives
// every job through its state machine.
package job

import (
	"encoding/json"
	"fmt"
	"time"

	"trading-worker/internal/strategy"
)

// Type identifies the handler a job is routed to.
type Type string

const (
	TypePriceUpdate  Type = "PRICE_UPDATE"
	TypeSignalCheck  Type = "SIGNAL_CHECK"
	TypeExecuteTrade Type = "EXECUTE_TRADE"
	TypeSyncState    Type = "SYNC_STATE"
	TypeHeartbeat    Type = "HEARTBEAT"
)

// Valid reports whether t is a known job type.
func (t Type) Valid() bool {
	switch t {
	case TypePriceUpdate, TypeSignalCheck, TypeExecuteTrade, TypeSyncState, TypeHeartbeat:
		return true
	}
	return false
}

// State is a job's position in its lifecycle.
type State string

const (
	StateEnqueued     State = "enqueued"
	StateRunning      State = "running"
	StateDone         State = "done"
	StateError        State = "error"
	StateDeadLettered State = "dead_lettered"
)

func (s State) Valid() bool {
	switch s {
	case StateEnqueued, StateRunning, StateDone, StateError, StateDeadLettered:
		return true
	}
	return false
}

// validTransitions is the job state machine. done and dead_lettered have no
// way out; error leaves only through a retry or the dead letter.
var validTransitions = map[State][]State{
	StateEnqueued: {StateRunning},
	StateRunning:  {StateDone, StateError},
	StateError:    {StateEnqueued, StateDeadLettered},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Envelope is a job plus its lifecycle record.
type Envelope struct {
	ID         string          `json:"job_id"`
	Type       Type            `json:"job_type"`
	Payload    json.RawMessage `json:"payload"`
	State      State           `json:"state"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retry_count"`
	Result     json.RawMessage `json:"result,omitempty"`
}

func (e *Envelope) String() string {
	s := fmt.Sprintf("job %s (%s) state=%s retries=%d", e.ID, e.Type, e.State, e.RetryCount)
	if e.Error != "" {
		s += ": " + e.Error
	}
	return s
}

// clone returns a deep copy safe to hand to callers.
func (e *Envelope) clone() Envelope {
	out := *e
	out.Payload = append(json.RawMessage(nil), e.Payload...)
	out.Result = append(json.RawMessage(nil), e.Result...)
	if e.StartedAt != nil {
		t := *e.StartedAt
		out.StartedAt = &t
	}
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Terminal reports whether the envelope can never run again.
func (e *Envelope) Terminal() bool {
	return e.State == StateDone || e.State == StateDeadLettered
}

// PriceUpdatePayload feeds the market cache.
type PriceUpdatePayload struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Volume    float64   `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// SignalCheckPayload asks the strategies for a decision. Price 0 falls back
// to the cached market price; an empty Strategy evaluates every strategy
// configured for the symbol.
type SignalCheckPayload struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price,omitempty"`
	Strategy string  `json:"strategy,omitempty"`
}

// ExecuteTradePayload carries a signal to the execution router.
type ExecuteTradePayload struct {
	Symbol string          `json:"symbol"`
	Signal strategy.Signal `json:"signal"`
}

// SyncStatePayload triggers reconciliation.
type SyncStatePayload struct {
	Reason string `json:"reason,omitempty"`
}

// HeartbeatPayload stamps the worker heartbeat.
type HeartbeatPayload struct {
	Source string `json:"source,omitempty"`
}
