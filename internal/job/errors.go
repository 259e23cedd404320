package job

import (
	"errors"
	"fmt"

	"trading-worker/internal/breaker"
)

var (
	ErrUnknownType    = errors.New("unknown job type")
	ErrClosed         = errors.New("dispatcher closed")
	ErrTimeout        = errors.New("job timed out")
	ErrNoHandler      = errors.New("no handler registered")
	ErrInvalidPayload = errors.New("invalid payload")
)

// TransientError is a recoverable handler failure; the job is retried.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string   { return e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Retryable() bool { return true }

// PermanentError fails the job without retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func invalidPayload(format string, args ...any) error {
	return Permanent(fmt.Errorf("%w: "+format, append([]any{ErrInvalidPayload}, args...)...))
}

// retryable is implemented by every classified error in the worker.
type retryable interface {
	Retryable() bool
}

// IsRetryable classifies a handler error. The breaker block and anything
// declaring Retryable() false are final; unclassified errors, including
// timeouts, are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, breaker.ErrActive) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
