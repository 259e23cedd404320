package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.Push(id))
	}
	assert.Equal(t, 3, q.Len())

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestQueuePopWaitsForPush(t *testing.T) {
	q := NewQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push("late")
	}()
	got, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", got)
}

func TestQueuePopHonoursContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	q := NewQueue()
	q.Push("x")
	q.Close()
	q.Close()
	assert.False(t, q.Push("y"))

	got, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", got)
	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
