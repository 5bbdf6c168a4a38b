package inflight

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_RoundTrip(t *testing.T) {
	c := New()
	c.Enter() // pre-existing scope
	before := c.Active()

	const n = 64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			g := c.Enter()
			defer g.Release()
			time.Sleep(time.Millisecond)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, before, c.Active())
	assert.EqualValues(t, n+1, c.Total())
}

func TestCounter_ReleaseIsIdempotent(t *testing.T) {
	c := New()
	g := c.Enter()
	g.Release()
	g.Release()

	assert.Zero(t, c.Active())
}

func TestCounter_SurvivesPanic(t *testing.T) {
	c := New()

	func() {
		defer func() { _ = recover() }()
		c.Track(func() { panic("handler failed") })
	}()

	assert.Zero(t, c.Active())
	assert.EqualValues(t, 1, c.Total())
}

func TestCounter_WaitIdle(t *testing.T) {
	c := New()
	g := c.Enter()

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Release()
	}()

	require.NoError(t, c.WaitIdle(context.Background(), 5*time.Millisecond))

	c.Enter()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitIdle(ctx, 5*time.Millisecond), context.DeadlineExceeded)
}
