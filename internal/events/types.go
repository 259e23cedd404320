package events

// Event enumerates topics published inside the worker.
type Event string

const (
	EventJobUpdate       Event = "job.update"
	EventJobDeadLettered Event = "job.dead_lettered"
	EventBreakerTripped  Event = "breaker.tripped"
	EventBreakerReset    Event = "breaker.reset"
	EventRiskAlert       Event = "risk_alert"
	EventPositionChange  Event = "position_change"
	EventPriceTick       Event = "price_tick"
)

// BreakerChange is published on EventBreakerTripped and EventBreakerReset.
type BreakerChange struct {
	Reason string `json:"reason,omitempty"`
	By     string `json:"by"`
}
