package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5с", FormatUptime(5*time.Second))
	assert.Equal(t, "2м 5с", FormatUptime(2*time.Minute+5*time.Second))
	assert.Equal(t, "3ч 0м 1с", FormatUptime(3*time.Hour+time.Second))
	assert.Equal(t, "1д 1ч 0м 0с", FormatUptime(25*time.Hour))
}

func TestProcessCollectorRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewProcessCollector(reg)
	require.NoError(t, err)

	s := c.Snapshot()
	assert.False(t, s.TakenAt.IsZero(), "первый снимок снимается сразу")
	assert.Positive(t, s.Goroutines)
	assert.Positive(t, s.HeapAllocMB)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["tileverse_process_goroutines"])
	assert.True(t, names["tileverse_process_resident_memory_bytes"])
}

func TestProcessCollectorRunStopsOnCancel(t *testing.T) {
	c, err := NewProcessCollector(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return !c.last.TakenAt.IsZero()
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run не остановился после отмены")
	}
}
