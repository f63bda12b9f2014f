package domain

import (
	"context"
	"time"
)

// ListOpts holds common pagination and filtering options for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OpenRecord is everything persisted atomically when a position is opened.
type OpenRecord struct {
	Position Position
	Trade    Trade
	Audit    AuditEntry
}

// TrackingUpdate is the per-tick engine write for one ACTIVE position. Audit is
// written in the same transaction when set.
type TrackingUpdate struct {
	PositionID      string
	LastPrice       float64
	PeakPrice       *float64
	TakeProfitPrice float64
	UnrealizedPnL   float64
	UpdatedAt       time.Time
	Audit           *AuditEntry
}

// CloseRecord is everything persisted atomically when a position is closed.
type CloseRecord struct {
	PositionID  string
	SellPrice   float64
	RealizedPnL float64
	ClosedAt    time.Time
	Trade       Trade
	Audit       AuditEntry
}

// PositionStore persists positions. Every mutation of an existing position is
// a guarded update conditioned on the current status.
type PositionStore interface {
	// Open inserts the position, its BUY trade and audit entry in one transaction.
	Open(ctx context.Context, rec OpenRecord) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListActive(ctx context.Context) ([]Position, error)
	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]Position, error)
	// ActiveSymbols returns the distinct symbols of ACTIVE positions.
	ActiveSymbols(ctx context.Context) ([]string, error)
	// UpdateTracking returns ErrNotActive if the position is no longer ACTIVE.
	UpdateTracking(ctx context.Context, upd TrackingUpdate) error
	// SetStatus moves a position from one of the given statuses to another.
	// It returns ErrInvalidTransition when the current status is not in from.
	SetStatus(ctx context.Context, id string, from []PositionStatus, to PositionStatus, audit AuditEntry) error
	// Close returns ErrAlreadyClosed when no ACTIVE row was updated.
	Close(ctx context.Context, rec CloseRecord) error
}

// TradeStore reads the trade ledger. Trades are written by PositionStore.
type TradeStore interface {
	ListByPosition(ctx context.Context, positionID string) ([]Trade, error)
	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// AuditStore is the append-only audit ledger.
type AuditStore interface {
	Append(ctx context.Context, e AuditEntry) error
	List(ctx context.Context, ownerID string, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// IdempotencyStore deduplicates open requests per (owner, token).
type IdempotencyStore interface {
	// Reserve atomically records token -> positionID. When the token already
	// exists, it returns the recorded position id and created=false.
	Reserve(ctx context.Context, ownerID, token, positionID string) (existing string, created bool, err error)
	// Release removes a reservation whose open failed.
	Release(ctx context.Context, ownerID, token string) error
	Lookup(ctx context.Context, ownerID, token string) (string, error)
}

// SnapshotStore holds the latest portfolio snapshot per owner.
type SnapshotStore interface {
	Save(ctx context.Context, snap PortfolioSnapshot) error
	Get(ctx context.Context, ownerID string) (PortfolioSnapshot, error)
}

// AccountStore holds user settings and linked exchange credentials.
type AccountStore interface {
	GetSettings(ctx context.Context, ownerID string) (UserSettings, error)
	SaveSettings(ctx context.Context, s UserSettings) error
	// DisplaySymbols returns every distinct non-empty display symbol.
	DisplaySymbols(ctx context.Context) ([]string, error)
	SaveCredentials(ctx context.Context, c EncryptedCredentials) error
	GetCredentials(ctx context.Context, ownerID string) (EncryptedCredentials, error)
	// LinkedOwners returns owners that have credentials stored.
	LinkedOwners(ctx context.Context) ([]string, error)
}
