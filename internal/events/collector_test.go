package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelai/propelai-backend/pkg/kafka"
	"github.com/propelai/propelai-backend/pkg/metrics"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (r *recorder) PublishBatch(_ context.Context, evs []kafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, append([]kafka.Event(nil), evs...))
	return nil
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestCollectorFlushesFullBatches(t *testing.T) {
	rec := &recorder{}
	c := NewCollector(rec, 10, 2, time.Hour)
	c.Start(context.Background())

	for i := 0; i < 4; i++ {
		c.Track(GenerationEvent{Type: GenerationSucceeded, UserID: "u1"})
	}
	require.Eventually(t, func() bool { return rec.total() == 4 }, time.Second, 5*time.Millisecond)
	c.Close()

	for _, b := range rec.batches {
		assert.Len(t, b, 2)
		assert.Equal(t, "u1", b[0].Key)
		ev, ok := b[0].Value.(GenerationEvent)
		require.True(t, ok)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestCollectorFlushesOnClose(t *testing.T) {
	rec := &recorder{}
	c := NewCollector(rec, 10, 100, time.Hour)
	c.Start(context.Background())
	c.Track(GenerationEvent{Type: GenerationFailed, UserID: "u2", Error: "boom"})
	c.Close()
	assert.Equal(t, 1, rec.total())
}

func TestCollectorFlushesOnCancel(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCollector(rec, 10, 100, time.Hour)
	c.Start(ctx)
	c.Track(GenerationEvent{Type: GenerationSucceeded, UserID: "u3"})
	c.Track(GenerationEvent{Type: GenerationSucceeded, UserID: "u3"})
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-c.done
	assert.Equal(t, 2, rec.total())
}

func TestTrackDropsWhenFull(t *testing.T) {
	c := NewCollector(&recorder{}, 1, 10, time.Hour)
	c.Track(GenerationEvent{UserID: "a"})
	c.Track(GenerationEvent{UserID: "b"})
	assert.Len(t, c.eventCh, 1)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	p.Track(GenerationEvent{})
}

func TestCollectorCountsOnlyWrittenEvents(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := NewCollector(&recorder{}, 1, 10, time.Hour).WithMetrics(m)
	c.Track(GenerationEvent{Type: GenerationSucceeded, UserID: "a"})
	c.Track(GenerationEvent{Type: GenerationSucceeded, UserID: "b"})
	c.Start(context.Background())
	c.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues(string(GenerationSucceeded))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDroppedTotal.WithLabelValues(string(GenerationSucceeded))))
}

func TestCollectorCountsFailedFlushAsDropped(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := NewCollector(&recorder{err: errors.New("broker down")}, 10, 10, time.Hour).WithMetrics(m)
	c.Start(context.Background())
	c.Track(GenerationEvent{Type: GenerationFailed, UserID: "a"})
	c.Close()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues(string(GenerationFailed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDroppedTotal.WithLabelValues(string(GenerationFailed))))
}
