package domain

import "time"

// AuditScope tells which part of the system produced an audit entry.
type AuditScope string

const (
	ScopeAPI    AuditScope = "API"
	ScopeEngine AuditScope = "ENGINE"
	ScopeSystem AuditScope = "SYSTEM"
)

// Audit action tags.
const (
	ActionPositionOpened    = "POSITION_OPENED"
	ActionTakeProfitMoved   = "TAKE_PROFIT_MOVED"
	ActionPositionClosed    = "POSITION_CLOSED"
	ActionCloseFailed       = "CLOSE_FAILED"
	ActionPositionPaused    = "POSITION_PAUSED"
	ActionPositionResumed   = "POSITION_RESUMED"
	ActionPositionStopped   = "POSITION_STOPPED"
	ActionOverrideSet       = "PRICE_OVERRIDE_SET"
	ActionOverrideCleared   = "PRICE_OVERRIDE_CLEARED"
	ActionCredentialsLinked = "CREDENTIALS_LINKED"
	ActionSettingsUpdated   = "SETTINGS_UPDATED"
	ActionArchiveCompleted  = "ARCHIVE_COMPLETED"
)

// AuditEntry is an append-only fact. OwnerID is empty for system-scope entries.
type AuditEntry struct {
	ID         int64          `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Scope      AuditScope     `json:"scope"`
	Action     string         `json:"action"`
	PositionID string         `json:"position_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}
