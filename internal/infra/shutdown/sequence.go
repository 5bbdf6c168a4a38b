package shutdown

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Step is one unit of work for RunSequential.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// StepResult is the outcome of a single step.
type StepResult struct {
	Name     string
	Duration time.Duration
	Err      error
	TimedOut bool
}

// RunSequential runs steps one at a time, in order, each under its own
// timeout. A failing, panicking or hung step never prevents the next one
// from running. A step that does not return within perStep is abandoned
// and reported with context.DeadlineExceeded.
//
// Every step gets a fresh context detached from ctx's cancellation, so the
// per-step timeout is the only bound. perStep <= 0 disables the timeout.
func RunSequential(ctx context.Context, steps []Step, perStep time.Duration) []StepResult {
	base := context.WithoutCancel(ctx)
	results := make([]StepResult, 0, len(steps))
	for _, st := range steps {
		results = append(results, runStep(base, st, perStep))
	}
	return results
}

// Failed counts results with a non-nil error.
func Failed(results []StepResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func runStep(base context.Context, st Step, perStep time.Duration) StepResult {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if perStep > 0 {
		ctx, cancel = context.WithTimeout(base, perStep)
	} else {
		ctx, cancel = context.WithCancel(base)
	}
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		errCh <- st.Run(ctx)
	}()

	res := StepResult{Name: st.Name}
	select {
	case err := <-errCh:
		res.Err = err
	case <-ctx.Done():
		res.TimedOut = true
		res.Err = fmt.Errorf("no result after %s: %w", perStep, context.DeadlineExceeded)
	}
	res.Duration = time.Since(start)
	return res
}
