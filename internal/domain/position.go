package domain

import "time"

// Mode selects how a position is executed.
type Mode string

const (
	ModeSimulated Mode = "SIMULATED"
	ModeLive      Mode = "LIVE"
)

// Valid reports whether m is a known execution mode.
func (m Mode) Valid() bool {
	return m == ModeSimulated || m == ModeLive
}

// TakeProfitMode selects whether the take-profit price is fixed at open or
// trails the peak price.
type TakeProfitMode string

const (
	TakeProfitFixed    TakeProfitMode = "FIXED"
	TakeProfitTrailing TakeProfitMode = "TRAILING"
)

// Valid reports whether m is a known take-profit mode.
func (m TakeProfitMode) Valid() bool {
	return m == TakeProfitFixed || m == TakeProfitTrailing
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionActive  PositionStatus = "ACTIVE"
	PositionPaused  PositionStatus = "PAUSED"
	PositionClosed  PositionStatus = "CLOSED"
	PositionStopped PositionStatus = "STOPPED"
)

// Position is a single holding watched for automatic liquidation.
type Position struct {
	ID                string         `json:"id"`
	OwnerID           string         `json:"owner_id"`
	Symbol            string         `json:"symbol"`
	Mode              Mode           `json:"mode"`
	EntryPrice        float64        `json:"entry_price"`
	Quantity          float64        `json:"quantity"`
	Notional          float64        `json:"notional"`
	TakeProfitMode    TakeProfitMode `json:"take_profit_mode"`
	TakeProfitPercent float64        `json:"take_profit_percent"`
	StepPercent       float64        `json:"step_percent"`
	PeakPrice         *float64       `json:"peak_price,omitempty"`
	TakeProfitPrice   float64        `json:"take_profit_price"`
	LastPrice         float64        `json:"last_price"`
	Status            PositionStatus `json:"status"`
	UnrealizedPnL     float64        `json:"unrealized_pnl"`
	RealizedPnL       *float64       `json:"realized_pnl,omitempty"`
	SellPrice         *float64       `json:"sell_price,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ClosedAt          *time.Time     `json:"closed_at,omitempty"`
}

// IsActive reports whether the position is being monitored.
func (p Position) IsActive() bool {
	return p.Status == PositionActive
}

// TakeProfitConfig is the caller-supplied take-profit configuration for a new
// position. StepPercent is only meaningful for TRAILING and defaults when zero.
type TakeProfitConfig struct {
	Mode        TakeProfitMode `json:"mode"`
	Percent     float64        `json:"percent"`
	StepPercent float64        `json:"step_percent,omitempty"`
}

// OpenRequest is the input of the open-position entry point.
type OpenRequest struct {
	OwnerID          string           `json:"owner_id"`
	Symbol           string           `json:"symbol"`
	Mode             Mode             `json:"mode"`
	Notional         float64          `json:"notional"`
	TakeProfit       TakeProfitConfig `json:"take_profit"`
	IdempotencyToken string           `json:"idempotency_token,omitempty"`
}

// OpenResult is returned by the open-position entry point. Duplicate is true
// when the idempotency token matched an earlier open and no order was placed.
type OpenResult struct {
	Position  Position `json:"position"`
	Duplicate bool     `json:"duplicate"`
}
