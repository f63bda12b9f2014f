package domain

import "context"

// Fill is the settlement result of an executed order, in quote-currency terms.
type Fill struct {
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	Fee      float64 `json:"fee"`
	OrderID  string  `json:"order_id"`
}

// Notional returns quantity times average price.
func (f Fill) Notional() float64 {
	return f.Quantity * f.AvgPrice
}

// ExecutionAdapter turns an open or close decision into a fill. Simulated and
// live implementations are indistinguishable past this boundary.
type ExecutionAdapter interface {
	PlaceOpen(ctx context.Context, ownerID, symbol string, notional float64) (Fill, error)
	PlaceClose(ctx context.Context, ownerID, symbol string, quantity float64) (Fill, error)
}
