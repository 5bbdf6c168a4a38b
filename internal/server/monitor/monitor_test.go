package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/toolhost-go/internal/infra/shutdown"
	"github.com/yndnr/toolhost-go/internal/server/inflight"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 << 20, "5.00 MB"},
		{3 << 30, "3.00 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func TestMemoryUsed(t *testing.T) {
	n, _ := MemoryUsed()
	assert.Greater(t, n, uint64(0))
}

func TestRun_WarnsOnGrowthAndStopsOnSignal(t *testing.T) {
	var calls atomic.Int32
	sample := func() (uint64, bool) {
		if calls.Add(1) == 1 {
			return 10 << 20, true
		}
		return 20 << 20, true
	}

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_resident_bytes"})
	warned := make(chan uint64, 4)
	sig := shutdown.NewSignal()
	counter := inflight.New()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Run(context.Background(), sig, counter, Config{
			Interval:        10 * time.Millisecond,
			GrowthThreshold: 1 << 20,
			Gauge:           gauge,
			Sample:          sample,
			OnWarn:          func(g uint64) { warned <- g },
		})
	}()

	select {
	case g := <-warned:
		assert.Equal(t, uint64(10<<20), g)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a growth warning")
	}
	assert.Equal(t, float64(20<<20), testutil.ToFloat64(gauge))

	sig.Cancel()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on signal")
	}
}

func TestRun_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, shutdown.NewSignal(), inflight.New(), Config{Interval: time.Hour})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "monitor did not stop on context")
	}
}
