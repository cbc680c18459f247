package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/propelai/propelai-backend/pkg/kafka"
	"github.com/propelai/propelai-backend/pkg/metrics"
)

type batchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers events in a channel and flushes them to Kafka when a
// batch fills up or the flush interval elapses. Track drops events when the
// buffer is full.
type Collector struct {
	producer      batchPublisher
	eventCh       chan GenerationEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
	done          chan struct{}
}

func NewCollector(producer batchPublisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Collector{
		producer:      producer,
		eventCh:       make(chan GenerationEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "event-collector"),
		done:          make(chan struct{}),
	}
}

// WithMetrics counts published and dropped events on m. Call before Start.
func (c *Collector) WithMetrics(m *metrics.Metrics) *Collector {
	c.metrics = m
	return c
}

// Start launches the flush loop. It returns when ctx is cancelled or Close
// is called, after a final flush.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		batch := make([]kafka.Event, 0, c.batchSize)
		for {
			select {
			case ev, ok := <-c.eventCh:
				if !ok {
					c.final(batch)
					return
				}
				batch = append(batch, kafka.Event{Key: ev.UserID, Value: ev})
				if len(batch) >= c.batchSize {
					batch = c.flush(ctx, batch)
				}
			case <-ticker.C:
				batch = c.flush(ctx, batch)
			case <-ctx.Done():
				c.final(c.drain(batch))
				return
			}
		}
	}()
	c.logger.Info("event collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

func (c *Collector) Track(ev GenerationEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case c.eventCh <- ev:
	default:
		c.logger.Warn("event dropped (buffer full)", "type", ev.Type, "user_id", ev.UserID)
		if c.metrics != nil {
			c.metrics.EventsDroppedTotal.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}

// Close stops accepting events and waits for the final flush. Track must
// not be called after Close.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Event) []kafka.Event {
	if len(batch) == 0 {
		return batch
	}
	err := c.producer.PublishBatch(ctx, batch)
	if err != nil {
		c.logger.Error("event flush failed", "batch_size", len(batch), "error", err)
	}
	if c.metrics != nil {
		counter := c.metrics.EventsPublishedTotal
		if err != nil {
			counter = c.metrics.EventsDroppedTotal
		}
		for _, e := range batch {
			if ev, ok := e.Value.(GenerationEvent); ok {
				counter.WithLabelValues(string(ev.Type)).Inc()
			}
		}
	}
	return batch[:0]
}

func (c *Collector) drain(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case ev, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, kafka.Event{Key: ev.UserID, Value: ev})
		default:
			return batch
		}
	}
}

func (c *Collector) final(batch []kafka.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.flush(ctx, batch)
}
