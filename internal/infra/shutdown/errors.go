package shutdown

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout matches any *TimeoutError via errors.Is.
	ErrTimeout = errors.New("shutdown: timed out waiting for completion")

	// ErrSignalLost means the completion event was dropped without firing.
	// Shutdown may have finished, but it cannot be confirmed.
	ErrSignalLost = errors.New("shutdown: completion signal lost")

	// ErrHandleConsumed is returned by a second WaitForCompletion call.
	ErrHandleConsumed = errors.New("shutdown: handle already consumed")

	// ErrReceiverGone is returned when completion fires after the waiter gave up.
	ErrReceiverGone = errors.New("shutdown: completion receiver gone")
)

// TimeoutError reports that completion did not arrive within Timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("shutdown: timed out after %s waiting for completion", e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) hold for every TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// PanicError is a panic recovered from a hook or from the orchestrator.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// AggregateError summarizes failed shutdown hooks.
type AggregateError struct {
	Failed int
	Total  int
	Errors []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("shutdown: %d of %d hooks failed: %s", e.Failed, e.Total, strings.Join(msgs, "; "))
}

// Unwrap exposes the per-hook errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}
