package domain

import "time"

// TradeSide is the direction of a fill.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Trade is an immutable fill record. RealizedPnL is only set for SELL trades.
type Trade struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	PositionID  string    `json:"position_id"`
	Side        TradeSide `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Notional    float64   `json:"notional"`
	Fee         float64   `json:"fee"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	Mode        Mode      `json:"mode"`
	OrderID     string    `json:"order_id"`
	CreatedAt   time.Time `json:"created_at"`
}
