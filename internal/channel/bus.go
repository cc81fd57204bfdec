// Package channel fans detection events out to sinks through bounded
// per-sink queues so a slow sink never stalls detection.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whalewatch/internal/metrics"
	"whalewatch/logger"
	"whalewatch/models"
)

// Sink is a destination for detection events.
type Sink interface {
	Name() string
	Write(ctx context.Context, event models.DetectionEvent) error
	Close() error
}

type queue struct {
	sink   Sink
	events chan models.DetectionEvent
	sendMu sync.Mutex

	statsMu sync.RWMutex
	stats   metrics.SinkStats
}

// EventBus delivers every published event to every registered sink. Each
// sink has its own queue and worker; a full queue drops its oldest event.
type EventBus struct {
	bufferSize   int
	writeTimeout time.Duration

	mu      sync.RWMutex
	queues  []*queue
	started bool
	closed  bool
	wg      sync.WaitGroup
	log     *logger.Log
}

func NewEventBus(bufferSize int, writeTimeout time.Duration) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &EventBus{bufferSize: bufferSize, writeTimeout: writeTimeout, log: logger.GetLogger()}
}

// Register adds a sink. Sinks registered after Start are not served.
func (b *EventBus) Register(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = append(b.queues, &queue{
		sink:   s,
		events: make(chan models.DetectionEvent, b.bufferSize),
		stats:  metrics.SinkStats{Name: s.Name(), QueueCap: b.bufferSize},
	})
	b.log.WithComponent("event_bus").WithFields(logger.Fields{
		"sink":        s.Name(),
		"buffer_size": b.bufferSize,
	}).Info("sink registered")
}

// Start launches one delivery goroutine per sink.
func (b *EventBus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	for _, q := range b.queues {
		b.wg.Add(1)
		go b.run(q)
	}
}

// Publish enqueues event for every sink without blocking.
func (b *EventBus) Publish(event models.DetectionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, q := range b.queues {
		b.offer(q, event)
	}
}

func (b *EventBus) offer(q *queue, event models.DetectionEvent) {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()
	for {
		select {
		case q.events <- event:
			return
		default:
		}
		select {
		case old := <-q.events:
			q.statsMu.Lock()
			q.stats.Dropped++
			q.statsMu.Unlock()
			metrics.EmitDropMetric(b.log, metrics.DropMetricEvents, q.sink.Name(), old.Symbol, "publish")
		default:
		}
	}
}

func (b *EventBus) run(q *queue) {
	defer b.wg.Done()
	for event := range q.events {
		b.deliver(q, event)
	}
}

func (b *EventBus) deliver(q *queue, event models.DetectionEvent) {
	name := q.sink.Name()
	defer func() {
		if r := recover(); r != nil {
			q.statsMu.Lock()
			q.stats.Failed++
			q.statsMu.Unlock()
			metrics.SinkError(name)
			b.log.WithComponent("event_bus").WithFields(logger.Fields{
				"sink":     name,
				"event_id": event.EventID,
				"panic":    fmt.Sprint(r),
			}).Error("sink panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
	defer cancel()
	if err := q.sink.Write(ctx, event); err != nil {
		q.statsMu.Lock()
		q.stats.Failed++
		q.statsMu.Unlock()
		metrics.SinkError(name)
		b.log.WithComponent("event_bus").WithError(err).WithFields(logger.Fields{
			"sink":     name,
			"event_id": event.EventID,
			"type":     event.Type,
		}).Warn("sink write failed")
		return
	}
	q.statsMu.Lock()
	q.stats.Delivered++
	q.statsMu.Unlock()
	logger.IncrementEvent(name)
}

// Close stops accepting events, drains the queues until ctx expires and
// closes every sink.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q.events)
	}
	queues := b.queues
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		b.log.WithComponent("event_bus").Warn("drain deadline reached, abandoning queued events")
		errs = append(errs, fmt.Errorf("drain event bus: %w", ctx.Err()))
	}

	for _, q := range queues {
		if err := q.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", q.sink.Name(), err))
		}
	}
	b.log.WithComponent("event_bus").Info("event bus closed")
	return errors.Join(errs...)
}

// Stats returns the counters of every sink.
func (b *EventBus) Stats() []metrics.SinkStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]metrics.SinkStats, 0, len(b.queues))
	for _, q := range b.queues {
		q.statsMu.RLock()
		s := q.stats
		q.statsMu.RUnlock()
		if !b.closed {
			s.QueueLen = len(q.events)
		}
		out = append(out, s)
	}
	return out
}

// StartStatsReporting logs sink statistics every interval until ctx ends.
func (b *EventBus) StartStatsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range b.Stats() {
					metrics.ReportSink(b.log, s)
				}
			}
		}
	}()
}
