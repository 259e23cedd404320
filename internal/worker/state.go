// Package worker tracks the lifecycle of the job worker: status, heartbeat
// and the last job it picked up.
package worker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is the worker lifecycle status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Snapshot is an immutable view of the worker state.
type Snapshot struct {
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastJobID     string    `json:"last_job_id"`
	JobsProcessed uint64    `json:"jobs_processed"`
	StartedAt     time.Time `json:"started_at"`
}

// State is shared by the dispatcher, the heartbeat ticker and the API.
// Writes are serialized; reads load the current snapshot without locking.
type State struct {
	mu  sync.Mutex
	cur atomic.Pointer[Snapshot]
	now func() time.Time
}

// NewState returns a worker that is offline until the dispatcher starts.
func NewState() *State {
	s := &State{now: time.Now}
	s.cur.Store(&Snapshot{Status: StatusOffline, StartedAt: time.Now().UTC()})
	return s
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	return *s.cur.Load()
}

func (s *State) update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.cur.Load()
	fn(&next)
	s.cur.Store(&next)
	return next
}

// MarkBusy records the start of job id.
func (s *State) MarkBusy(jobID string) {
	s.update(func(sn *Snapshot) {
		sn.Status = StatusBusy
		sn.LastJobID = jobID
	})
}

// MarkIdle records that the current job finished.
func (s *State) MarkIdle() {
	s.update(func(sn *Snapshot) {
		sn.Status = StatusIdle
		sn.JobsProcessed++
	})
}

// MarkOnline moves an offline worker to idle. A busy worker is left alone.
func (s *State) MarkOnline() {
	s.update(func(sn *Snapshot) {
		if sn.Status == StatusOffline {
			sn.Status = StatusIdle
		}
	})
}

// MarkOffline records shutdown.
func (s *State) MarkOffline() {
	s.update(func(sn *Snapshot) {
		sn.Status = StatusOffline
	})
}

// Heartbeat stamps the heartbeat and returns the age of the previous one
// (zero on the first beat).
func (s *State) Heartbeat() time.Duration {
	now := s.now().UTC()
	var age time.Duration
	s.update(func(sn *Snapshot) {
		if !sn.LastHeartbeat.IsZero() {
			age = now.Sub(sn.LastHeartbeat)
		}
		sn.LastHeartbeat = now
	})
	return age
}

// HeartbeatAge is the time since the last heartbeat, or zero if none yet.
func (s *State) HeartbeatAge() time.Duration {
	last := s.cur.Load().LastHeartbeat
	if last.IsZero() {
		return 0
	}
	return s.now().Sub(last)
}
