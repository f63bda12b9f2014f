// Package notify delivers position and sync events to chat channels. Events
// are queued without blocking the publisher, filtered by type and fanned out
// to every registered sender (Telegram, Discord).
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// EventSender is implemented by senders that render the event themselves
// instead of the formatted title and body.
type EventSender interface {
	SendEvent(ctx context.Context, evt domain.Event) error
}

// Notifier formats events and dispatches them to one or more Senders. Only
// event types in the allowed set are forwarded; an empty set allows all.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Allows reports whether events of type t pass the filter.
func (n *Notifier) Allows(t domain.EventType) bool {
	return len(n.events) == 0 || n.events[t]
}

// Notify sends evt to all senders if its type passes the filter.
func (n *Notifier) Notify(ctx context.Context, evt domain.Event) error {
	if !n.Allows(evt.Type) {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(evt.Type)),
		)
		return nil
	}
	return n.dispatch(ctx, evt)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, evt domain.Event) error {
	if len(n.senders) == 0 {
		return nil
	}

	title, message := Format(evt)
	var errs []string
	for _, s := range n.senders {
		var err error
		if es, ok := s.(EventSender); ok {
			err = es.SendEvent(ctx, evt)
		} else {
			err = s.Send(ctx, title, message)
		}
		if err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
