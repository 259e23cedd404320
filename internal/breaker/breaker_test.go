package breaker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerThenReset(t *testing.T) {
	ctx := context.Background()
	b := New(ctx, NewMemoryStore(), nil)

	require.True(t, b.Trigger(ctx, "drawdown breach", "RiskEngine"))
	require.True(t, b.IsActive())
	require.True(t, b.Reset(ctx, "ops"))

	st := b.Status()
	assert.False(t, st.Active)
	assert.Equal(t, 1, st.EventCount)
	require.Len(t, st.LastEvents, 1)
	assert.Equal(t, "ops", st.LastEvents[0].ResetBy)
	assert.NotNil(t, st.LastEvents[0].ResetTimestamp)
	assert.Equal(t, "drawdown breach", st.LastEvents[0].Reason)
}

func TestTriggerWhileActiveChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	b := New(ctx, store, nil)

	require.True(t, b.Trigger(ctx, "first", "scheduler"))
	before := b.Status()
	saves := store.Saves()

	assert.False(t, b.Trigger(ctx, "second", "admin"))

	after := b.Status()
	assert.Equal(t, before.Reason, after.Reason)
	assert.Equal(t, before.TriggeredBy, after.TriggeredBy)
	assert.Equal(t, *before.TriggeredAt, *after.TriggeredAt)
	assert.Equal(t, before.EventCount, after.EventCount)
	assert.Equal(t, saves, store.Saves())
}

func TestResetInactiveReturnsFalse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	b := New(ctx, store, nil)

	assert.False(t, b.Reset(ctx, "ops"))
	assert.Equal(t, 0, b.Status().EventCount)
	assert.Equal(t, 0, store.Saves())
}

func TestStatusReturnsAtMostFiveEvents(t *testing.T) {
	ctx := context.Background()
	b := New(ctx, NewMemoryStore(), nil)

	for i := 0; i < 8; i++ {
		require.True(t, b.Trigger(ctx, fmt.Sprintf("trip %d", i), "test"))
		require.True(t, b.Reset(ctx, "ops"))
	}

	st := b.Status()
	assert.Equal(t, 8, st.EventCount)
	require.Len(t, st.LastEvents, maxStatusEvents)
	assert.Equal(t, "trip 3", st.LastEvents[0].Reason)
	assert.Equal(t, "trip 7", st.LastEvents[4].Reason)
}

func TestStatusDoesNotAliasState(t *testing.T) {
	ctx := context.Background()
	b := New(ctx, NewMemoryStore(), nil)
	b.Trigger(ctx, "manual", "ops")

	st := b.Status()
	st.LastEvents[0].Reason = "tampered"

	assert.Equal(t, "manual", b.Status().LastEvents[0].Reason)
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "breaker", "state.json")

	first := New(ctx, NewFileStore(path), nil)
	require.True(t, first.Trigger(ctx, "exchange outage", "scheduler"))

	second := New(ctx, NewFileStore(path), nil)
	assert.True(t, second.IsActive())
	st := second.Status()
	assert.Equal(t, "exchange outage", st.Reason)
	assert.Equal(t, "scheduler", st.TriggeredBy)
	assert.Equal(t, 1, st.EventCount)

	require.True(t, second.Reset(ctx, "ops"))
	third := New(ctx, NewFileStore(path), nil)
	assert.False(t, third.IsActive())
	assert.Equal(t, "ops", third.Status().LastEvents[0].ResetBy)
}

func TestCorruptFileStartsInactive(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	b := New(ctx, NewFileStore(path), nil)
	assert.False(t, b.IsActive())
	assert.Equal(t, 0, b.Status().EventCount)
}

func TestInconsistentActiveDocumentStaysActive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	// Active but with no open event.
	store.SetRaw([]byte(`{"active":true,"reason":"x","triggered_by":"y","events":[]}`))

	b := New(ctx, store, nil)
	require.True(t, b.IsActive())
	st := b.Status()
	assert.Equal(t, "x", st.Reason)
	require.Equal(t, 1, st.EventCount)
	assert.True(t, st.LastEvents[0].Open())
	assert.Equal(t, "y", st.LastEvents[0].TriggeredBy)

	// The repaired history resets like any other trip.
	require.True(t, b.Reset(ctx, "ops"))
	assert.False(t, b.IsActive())
	assert.False(t, b.Status().LastEvents[0].Open())
}

func TestInconsistentInactiveDocumentClosesStrayEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetRaw([]byte(`{"active":false,"events":[{"timestamp":"2026-01-01T00:00:00Z","reason":"a","triggered_by":"ops"}]}`))

	b := New(ctx, store, nil)
	assert.False(t, b.IsActive())
	st := b.Status()
	require.Equal(t, 1, st.EventCount)
	assert.False(t, st.LastEvents[0].Open())
	assert.Equal(t, "restore", st.LastEvents[0].ResetBy)
}

func TestRepairedStateIsConsistent(t *testing.T) {
	now := time.Now().UTC()
	for _, st := range []State{
		{Active: true},
		{Active: true, Events: []TriggerEvent{{Reason: "open"}, {Reason: "open2"}}},
		{Active: false, Events: []TriggerEvent{{Reason: "open"}}},
	} {
		assert.True(t, st.repaired(now).consistent(), "%+v", st)
	}
	two := State{Active: true, Events: []TriggerEvent{{Reason: "open"}, {Reason: "open2"}}}.repaired(now)
	assert.Len(t, two.Events, 2)
	assert.True(t, two.Events[1].Open())
}

func TestSaveFailureKeepsInMemoryState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.FailWith = errors.New("disk full")
	b := New(ctx, store, nil)

	require.True(t, b.Trigger(ctx, "manual", "ops"))
	assert.True(t, b.IsActive())
	require.True(t, b.Reset(ctx, "ops"))
	assert.False(t, b.IsActive())
}

func TestConcurrentTriggersRecordOneEvent(t *testing.T) {
	ctx := context.Background()
	b := New(ctx, NewMemoryStore(), nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if b.Trigger(ctx, fmt.Sprintf("path %d", i), "race") {
				mu.Lock()
				won++
				mu.Unlock()
			}
			_ = b.IsActive()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, 1, b.Status().EventCount)
}

func TestConsistent(t *testing.T) {
	closed := TriggerEvent{Reason: "a"}
	ts := closed.Timestamp
	closed.ResetTimestamp = &ts

	assert.True(t, State{}.consistent())
	assert.True(t, State{Events: []TriggerEvent{closed}}.consistent())
	assert.True(t, State{Active: true, Events: []TriggerEvent{closed, {Reason: "b"}}}.consistent())
	assert.False(t, State{Active: false, Events: []TriggerEvent{{Reason: "open"}}}.consistent())
	assert.False(t, State{Active: true, Events: []TriggerEvent{{Reason: "open"}, {Reason: "open2"}}}.consistent())
}
