package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// Dispatcher is a queued domain.EventPublisher. Publish never blocks: when
// the queue is full the event is dropped and counted. Run drains the queue
// into the Notifier.
type Dispatcher struct {
	queue    chan domain.Event
	notifier *Notifier
	timeout  time.Duration
	dropped  atomic.Int64
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher with the given queue capacity.
func NewDispatcher(notifier *Notifier, queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		queue:    make(chan domain.Event, queueSize),
		notifier: notifier,
		timeout:  15 * time.Second,
		logger:   logger.With(slog.String("component", "notify_dispatcher")),
	}
}

// Publish enqueues evt, dropping it when the queue is full.
func (d *Dispatcher) Publish(ctx context.Context, evt domain.Event) {
	if !d.notifier.Allows(evt.Type) {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case d.queue <- evt:
	default:
		n := d.dropped.Add(1)
		d.logger.WarnContext(ctx, "notify queue full, event dropped",
			slog.String("event", string(evt.Type)),
			slog.Int64("dropped_total", n),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			// Sender errors are already logged by the notifier.
			_ = d.notifier.Notify(sendCtx, evt)
			cancel()
		}
	}
}

// Fanout publishes each event to every wrapped publisher in order.
type Fanout []domain.EventPublisher

// Publish implements domain.EventPublisher.
func (f Fanout) Publish(ctx context.Context, evt domain.Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, evt)
		}
	}
}
