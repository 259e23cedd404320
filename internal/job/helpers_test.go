package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxRetries:    2,
		Timeout:       200 * time.Millisecond,
		BackoffMin:    time.Millisecond,
		BackoffMax:    5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

// run starts the dispatch loop and stops it when the test ends.
func run(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
		<-done
	})
}

// waitState waits until job id reaches state and returns the envelope.
func waitState(t *testing.T, d *Dispatcher, id string, state State) Envelope {
	t.Helper()
	var env Envelope
	require.Eventually(t, func() bool {
		var ok bool
		env, ok = d.Get(id)
		return ok && env.State == state
	}, 2*time.Second, 2*time.Millisecond, "job %s never reached %s (last: %s %q)", id, state, env.State, env.Error)
	return env
}
