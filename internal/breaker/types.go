package breaker

import "time"

// maxStatusEvents bounds the history returned by Status.
const maxStatusEvents = 5

// TriggerEvent records one trip of the breaker. It is open until reset.
type TriggerEvent struct {
	Timestamp      time.Time  `json:"timestamp"`
	Reason         string     `json:"reason"`
	TriggeredBy    string     `json:"triggered_by"`
	ResetTimestamp *time.Time `json:"reset_timestamp,omitempty"`
	ResetBy        string     `json:"reset_by,omitempty"`
}

// Open reports whether the event has not been reset yet.
func (e TriggerEvent) Open() bool {
	return e.ResetTimestamp == nil
}

// State is the persisted breaker document.
type State struct {
	Active      bool           `json:"active"`
	Reason      string         `json:"reason"`
	TriggeredBy string         `json:"triggered_by"`
	TriggeredAt *time.Time     `json:"triggered_at"`
	Events      []TriggerEvent `json:"events"`
}

// consistent checks that exactly the last event is open iff the breaker is active.
func (s State) consistent() bool {
	for i, ev := range s.Events {
		last := i == len(s.Events)-1
		if ev.Open() && !(last && s.Active) {
			return false
		}
	}
	if s.Active {
		return len(s.Events) > 0 && s.Events[len(s.Events)-1].Open()
	}
	return true
}

// repairedBy marks events closed or opened while repairing a loaded document.
const repairedBy = "restore"

// repaired closes every stray open event and, when active, ends the history
// with one open event for the current trip.
func (s State) repaired(now time.Time) State {
	out := s.clone()
	for i := range out.Events {
		if out.Events[i].Open() {
			out.Events[i].ResetTimestamp = &now
			out.Events[i].ResetBy = repairedBy
		}
	}
	if !out.Active {
		return out
	}
	if n := len(out.Events); n > 0 && out.Events[n-1].ResetBy == repairedBy {
		// The last trip was open already; reopen it.
		out.Events[n-1].ResetTimestamp = nil
		out.Events[n-1].ResetBy = ""
		return out
	}
	at := now
	if out.TriggeredAt != nil {
		at = *out.TriggeredAt
	}
	reason := out.Reason
	if reason == "" {
		reason = "restored active state"
	}
	by := out.TriggeredBy
	if by == "" {
		by = repairedBy
	}
	out.Events = append(out.Events, TriggerEvent{Timestamp: at, Reason: reason, TriggeredBy: by})
	return out
}

func (s State) clone() State {
	out := s
	if s.TriggeredAt != nil {
		at := *s.TriggeredAt
		out.TriggeredAt = &at
	}
	out.Events = make([]TriggerEvent, len(s.Events))
	for i, ev := range s.Events {
		out.Events[i] = ev
		if ev.ResetTimestamp != nil {
			ts := *ev.ResetTimestamp
			out.Events[i].ResetTimestamp = &ts
		}
	}
	return out
}

// Status is the read-only view returned to operators.
type Status struct {
	Active      bool           `json:"active"`
	Reason      string         `json:"reason"`
	TriggeredBy string         `json:"triggered_by"`
	TriggeredAt *time.Time     `json:"triggered_at"`
	EventCount  int            `json:"event_count"`
	LastEvents  []TriggerEvent `json:"last_events"`
}
