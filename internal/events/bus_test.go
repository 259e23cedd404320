package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(EventJobUpdate, 1)
	b, unsubB := bus.Subscribe(EventJobUpdate, 1)
	defer unsubA()
	defer unsubB()

	bus.Publish(EventJobUpdate, "job-1")

	assert.Equal(t, "job-1", <-a)
	assert.Equal(t, "job-1", <-b)
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventBreakerTripped, 1)
	defer unsub()

	bus.Publish(EventBreakerTripped, BreakerChange{By: "ops"})
	bus.Publish(EventBreakerTripped, BreakerChange{By: "ops"})

	require.Len(t, ch, 1)
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventJobUpdate, 1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(EventJobUpdate, "ignored")
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(EventJobUpdate, "x")
}
