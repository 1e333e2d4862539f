package events

import (
	"context"
	"sync"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/metrics"
)

// Publisher accepts events for delivery and never blocks.
type Publisher interface {
	Publish(events ...domain.Event)
}

// Dispatcher queues events on a buffered channel and delivers them to a sink
// from a single background goroutine. When the queue is full new events are
// dropped and logged.
type Dispatcher struct {
	sink    Sink
	queue   chan domain.Event
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(sink Sink, bufferSize int, m *metrics.Metrics) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan domain.Event, bufferSize),
		metrics: m,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

// Start launches the delivery loop. It exits once Close has drained the queue.
func (d *Dispatcher) Start() {
	go d.run()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e domain.Event) {
	meta := e.Meta()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Publish(ctx, e); err != nil {
		logger.Error("Failed to publish event", "event_id", meta.ID, "type", meta.Type, "rental_id", meta.RentalID, "error", err)
		d.metrics.Event(string(meta.Type), false)
		return
	}
	d.metrics.Event(string(meta.Type), true)
}

func (d *Dispatcher) Publish(events ...domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range events {
		if e == nil {
			continue
		}
		if d.closed {
			logger.Warn("Dispatcher closed, dropping event", "type", e.Meta().Type, "rental_id", e.Meta().RentalID)
			d.metrics.Event(string(e.Meta().Type), false)
			continue
		}
		select {
		case d.queue <- e:
		default:
			logger.Error("Event queue full, dropping event", "type", e.Meta().Type, "rental_id", e.Meta().RentalID)
			d.metrics.Event(string(e.Meta().Type), false)
		}
	}
}

// Close stops accepting events, waits for queued ones to be delivered or ctx
// to expire, then closes the sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		logger.Warn("Event dispatcher closed before draining", "pending", len(d.queue))
	}
	return d.sink.Close()
}
