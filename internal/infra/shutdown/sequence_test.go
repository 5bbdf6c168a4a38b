package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSequential(t *testing.T) {
	order := &orderLog{}
	steps := []Step{
		{Name: "ok", Run: func(context.Context) error { order.add("ok"); return nil }},
		{Name: "err", Run: func(context.Context) error { order.add("err"); return errors.New("nope") }},
		{Name: "slow", Run: func(ctx context.Context) error {
			order.add("slow")
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			return ctx.Err()
		}},
		{Name: "last", Run: func(context.Context) error { order.add("last"); return nil }},
	}

	results := RunSequential(context.Background(), steps, 30*time.Millisecond)
	require.Len(t, results, 4)

	assert.Equal(t, []string{"ok", "err", "slow", "last"}, order.get())
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "nope")
	assert.True(t, results[2].TimedOut)
	assert.ErrorIs(t, results[2].Err, context.DeadlineExceeded)
	assert.NoError(t, results[3].Err)
	assert.Equal(t, 2, Failed(results))
}

func TestRunSequential_NoTimeout(t *testing.T) {
	results := RunSequential(context.Background(), []Step{
		{Name: "x", Run: func(ctx context.Context) error {
			_, has := ctx.Deadline()
			assert.False(t, has)
			return nil
		}},
	}, 0)
	assert.Zero(t, Failed(results))
}

func TestNewBudget(t *testing.T) {
	b := NewBudget(10 * time.Second)
	assert.Equal(t, 7*time.Second, b.TransportDrain)
	assert.Equal(t, 9*time.Second, b.TransportGrace)
	assert.Equal(t, 3*time.Second, b.ManagerCleanup)

	d := NewBudget(0)
	assert.Equal(t, DefaultShutdownTimeout, d.Total)
	assert.Equal(t, 21*time.Second, d.TransportDrain)
}
