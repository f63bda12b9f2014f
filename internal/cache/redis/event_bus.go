package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// streamMaxLen is the approximate maximum length of the event history
// stream, enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// EventBus publishes domain events as JSON on a Pub/Sub channel and appends
// them to a capped stream for late readers. Publish only enqueues; Run does
// the network writes.
type EventBus struct {
	c       *Client
	channel string
	queue   chan domain.Event
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewEventBus creates an EventBus on channel with the given queue size.
func NewEventBus(c *Client, channel string, queueSize int, logger *slog.Logger) *EventBus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &EventBus{
		c:       c,
		channel: channel,
		queue:   make(chan domain.Event, queueSize),
		logger:  logger.With(slog.String("component", "event_bus")),
	}
}

func (b *EventBus) streamKey() string {
	return b.c.key("events")
}

// Publish enqueues evt, dropping it when the queue is full.
func (b *EventBus) Publish(ctx context.Context, evt domain.Event) {
	select {
	case b.queue <- evt:
	default:
		b.logger.WarnContext(ctx, "event bus queue full, event dropped",
			slog.String("event", string(evt.Type)),
			slog.Int64("dropped_total", b.dropped.Add(1)),
		)
	}
}

// Run drains the queue until ctx is cancelled.
func (b *EventBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-b.queue:
			if err := b.send(ctx, evt); err != nil && ctx.Err() == nil {
				b.logger.WarnContext(ctx, "event publish failed",
					slog.String("event", string(evt.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (b *EventBus) send(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	pipe := b.c.rdb.Pipeline()
	pipe.Publish(ctx, b.channel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey(),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(evt.Type),
			"payload": payload,
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe returns a channel of events published on the bus. The
// subscription and the returned channel close when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := b.c.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}

	out := make(chan domain.Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// History returns up to count of the most recent events, newest first.
func (b *EventBus) History(ctx context.Context, count int64) ([]domain.Event, error) {
	msgs, err := b.c.rdb.XRevRangeN(ctx, b.streamKey(), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read event history: %w", err)
	}
	out := make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		var raw []byte
		switch v := m.Values["payload"].(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		default:
			continue
		}
		var evt domain.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

var _ domain.EventPublisher = (*EventBus)(nil)
