package domain

import (
	"context"
	"time"
)

// EventType names a fact emitted to notification collaborators.
type EventType string

const (
	EventPositionOpened  EventType = "position_opened"
	EventTakeProfitMoved EventType = "take_profit_moved"
	EventPositionClosed  EventType = "position_closed"
	EventCloseFailed     EventType = "close_failed"
	EventSyncFailed      EventType = "sync_failed"
)

// Event is a typed, best-effort notification.
type Event struct {
	Type       EventType      `json:"type"`
	OwnerID    string         `json:"owner_id,omitempty"`
	PositionID string         `json:"position_id,omitempty"`
	Symbol     string         `json:"symbol,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	At         time.Time      `json:"at"`
}

// EventPublisher delivers events. Implementations must not block the caller
// on slow downstream delivery.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event)
}
