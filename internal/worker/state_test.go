package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLifecycle(t *testing.T) {
	s := NewState()
	assert.Equal(t, StatusOffline, s.Snapshot().Status)

	s.MarkOnline()
	assert.Equal(t, StatusIdle, s.Snapshot().Status)

	s.MarkBusy("job-1")
	snap := s.Snapshot()
	assert.Equal(t, StatusBusy, snap.Status)
	assert.Equal(t, "job-1", snap.LastJobID)

	s.MarkOnline()
	assert.Equal(t, StatusBusy, s.Snapshot().Status)

	s.MarkIdle()
	snap = s.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, "job-1", snap.LastJobID)
	assert.Equal(t, uint64(1), snap.JobsProcessed)

	s.MarkOffline()
	assert.Equal(t, StatusOffline, s.Snapshot().Status)
}

func TestHeartbeatAge(t *testing.T) {
	s := NewState()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	assert.Zero(t, s.HeartbeatAge())
	assert.Zero(t, s.Heartbeat())

	clock = clock.Add(15 * time.Second)
	assert.Equal(t, 15*time.Second, s.HeartbeatAge())
	assert.Equal(t, 15*time.Second, s.Heartbeat())
	assert.Equal(t, clock, s.Snapshot().LastHeartbeat)
	assert.Zero(t, s.HeartbeatAge())
}

func TestConcurrentUpdates(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.MarkBusy("j")
			s.MarkIdle()
		}()
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
			s.Heartbeat()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(50), s.Snapshot().JobsProcessed)
}
