// Package breaker implements the process-wide emergency stop that gates trade execution.
package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrActive is returned to callers blocked by a tripped breaker.
var ErrActive = errors.New("circuit breaker active")

const persistTimeout = 5 * time.Second

// Breaker is the shared emergency-stop handle. Trigger and Reset are serialized;
// IsActive and Status read an immutable snapshot without locking.
type Breaker struct {
	mu    sync.Mutex
	state atomic.Pointer[State]
	store Store
	log   *zap.SugaredLogger
	now   func() time.Time
}

// New loads the persisted state from store. A missing or unreadable document
// leaves the breaker inactive; a readable one keeps its active flag.
func New(ctx context.Context, store Store, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	b := &Breaker{
		store: store,
		log:   logger.Named("breaker").Sugar(),
		now:   time.Now,
	}
	b.state.Store(b.load(ctx))
	return b
}

func (b *Breaker) load(ctx context.Context) *State {
	st, err := b.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		b.log.Warnf("no persisted circuit breaker state, starting inactive")
		return &State{}
	case err != nil:
		b.log.Warnf("circuit breaker state unreadable, starting inactive: %v", err)
		return &State{}
	case !st.consistent():
		// Keep the active flag: an emergency stop is never disarmed by a bad history.
		b.log.Warnf("circuit breaker state inconsistent (active=%v events=%d), repairing event history", st.Active, len(st.Events))
		st = st.repaired(b.now().UTC())
		b.persist(ctx, st)
	}
	if st.Active {
		b.log.Warnf("circuit breaker restored ACTIVE: reason=%q by=%s", st.Reason, st.TriggeredBy)
	}
	return &st
}

// IsActive reports whether trade execution is halted.
func (b *Breaker) IsActive() bool {
	return b.state.Load().Active
}

// Status returns the current state with at most the last five events.
func (b *Breaker) Status() Status {
	st := b.state.Load()
	start := len(st.Events) - maxStatusEvents
	if start < 0 {
		start = 0
	}
	last := make([]TriggerEvent, len(st.Events)-start)
	copy(last, st.Events[start:])

	out := Status{
		Active:      st.Active,
		Reason:      st.Reason,
		TriggeredBy: st.TriggeredBy,
		EventCount:  len(st.Events),
		LastEvents:  last,
	}
	if st.TriggeredAt != nil {
		at := *st.TriggeredAt
		out.TriggeredAt = &at
	}
	return out
}

// Trigger halts trade execution. Triggering an active breaker changes nothing
// and returns false.
func (b *Breaker) Trigger(ctx context.Context, reason, triggeredBy string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.state.Load()
	if cur.Active {
		b.log.Infof("circuit breaker already active (reason=%q by=%s), ignoring trigger from %s: %s",
			cur.Reason, cur.TriggeredBy, triggeredBy, reason)
		return false
	}

	now := b.now().UTC()
	next := cur.clone()
	next.Active = true
	next.Reason = reason
	next.TriggeredBy = triggeredBy
	next.TriggeredAt = &now
	next.Events = append(next.Events, TriggerEvent{
		Timestamp:   now,
		Reason:      reason,
		TriggeredBy: triggeredBy,
	})

	b.state.Store(&next)
	b.log.Errorf("🛑 circuit breaker TRIGGERED by %s: %s", triggeredBy, reason)
	b.persist(ctx, next)
	return true
}

// Reset re-enables trade execution. It returns false when the breaker is not active.
func (b *Breaker) Reset(ctx context.Context, resetBy string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.state.Load()
	if !cur.Active {
		return false
	}

	now := b.now().UTC()
	next := cur.clone()
	if n := len(next.Events); n > 0 {
		next.Events[n-1].ResetTimestamp = &now
		next.Events[n-1].ResetBy = resetBy
	}
	next.Active = false

	b.state.Store(&next)
	b.log.Infof("✅ circuit breaker reset by %s (was: %s)", resetBy, cur.Reason)
	b.persist(ctx, next)
	return true
}

// persist writes the document; failures only degrade durability.
func (b *Breaker) persist(ctx context.Context, st State) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := b.store.Save(ctx, st); err != nil {
		b.log.Errorf("circuit breaker state not persisted (in-memory state stays authoritative): %v", err)
	}
}
