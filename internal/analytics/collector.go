package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/kafka"
)

// Publisher ships batches of events off-process. *kafka.Producer satisfies it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

type CollectorConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Collector accepts query events from request handlers without blocking them.
// A single background loop folds every event into the Aggregator and, when a
// Publisher is configured, ships them in batches of BatchSize or every
// FlushInterval, whichever comes first.
type Collector struct {
	aggregator    *Aggregator
	publisher     Publisher
	eventCh       chan QueryEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewCollector creates a Collector. publisher may be nil.
func NewCollector(aggregator *Aggregator, publisher Publisher, cfg CollectorConfig) *Collector {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Collector{
		aggregator:    aggregator,
		publisher:     publisher,
		eventCh:       make(chan QueryEvent, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background loop. It stops when ctx is cancelled or
// Close is called.
func (c *Collector) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run(ctx)
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"publishing", c.publisher != nil,
	)
}

// Track enqueues an event. It never blocks; events are dropped when the
// buffer is full or the collector is closed.
func (c *Collector) Track(event QueryEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		if c.dropped.Add(1)%1000 == 1 {
			c.logger.Warn("analytics event dropped (buffer full)", "dropped_total", c.dropped.Load())
		}
	}
}

// Dropped returns the number of events lost to a full buffer.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops accepting events, drains what is buffered, flushes the last
// batch and waits for the loop to exit.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	close(c.eventCh)
	c.mu.Unlock()

	if c.started.CompareAndSwap(false, true) {
		go c.run(context.Background())
	}
	<-c.done
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Event, 0, c.batchSize)
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				c.finalFlush(batch)
				return
			}
			batch = c.handle(ctx, event, batch)
		case <-ticker.C:
			batch = c.flush(ctx, batch)
		case <-ctx.Done():
			for {
				select {
				case event, ok := <-c.eventCh:
					if !ok {
						c.finalFlush(batch)
						return
					}
					batch = c.handle(ctx, event, batch)
				default:
					c.finalFlush(batch)
					return
				}
			}
		}
	}
}

func (c *Collector) handle(ctx context.Context, event QueryEvent, batch []kafka.Event) []kafka.Event {
	c.aggregator.Record(event)
	if c.publisher == nil {
		return batch
	}
	batch = append(batch, kafka.Event{Key: string(event.Type), Value: event})
	if len(batch) >= c.batchSize {
		batch = c.flush(ctx, batch)
	}
	return batch
}

func (c *Collector) finalFlush(batch []kafka.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rest := c.flush(ctx, batch); len(rest) > 0 {
		c.logger.Warn("analytics events lost on shutdown", "count", len(rest))
	}
}

// flush publishes batch and returns the slice to keep accumulating into.
// Failed events are kept for the next attempt, up to three batches' worth.
func (c *Collector) flush(ctx context.Context, batch []kafka.Event) []kafka.Event {
	if c.publisher == nil || len(batch) == 0 {
		return batch
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		if limit := c.batchSize * 3; len(batch) > limit {
			c.logger.Warn("buffer overflow, events dropped", "dropped", len(batch)-limit)
			batch = batch[len(batch)-limit:]
		}
		return batch
	}
	c.logger.Debug("batch flushed", "events", len(batch))
	return make([]kafka.Event, 0, c.batchSize)
}
