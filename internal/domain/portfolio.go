package domain

import "time"

// AssetBalance is one asset line of an exchange account.
type AssetBalance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total returns free plus locked.
func (b AssetBalance) Total() float64 {
	return b.Free + b.Locked
}

// PortfolioSnapshot is the latest synced valuation of an owner's account.
// Skipped lists assets that had no known price and did not contribute.
type PortfolioSnapshot struct {
	OwnerID    string             `json:"owner_id"`
	QuoteAsset string             `json:"quote_asset"`
	Valuation  float64            `json:"valuation"`
	Balances   map[string]float64 `json:"balances"`
	Skipped    []string           `json:"skipped,omitempty"`
	SyncedAt   time.Time          `json:"synced_at"`
}
