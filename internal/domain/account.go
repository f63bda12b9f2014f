package domain

import (
	"context"
	"fmt"
	"time"
)

// UserSettings are per-owner preferences. A nil FeeRateBps means the configured
// default simulation fee applies.
type UserSettings struct {
	OwnerID                  string    `json:"owner_id"`
	DisplaySymbol            string    `json:"display_symbol"`
	FeeRateBps               *float64  `json:"fee_rate_bps,omitempty"`
	DefaultTakeProfitPercent float64   `json:"default_take_profit_percent"`
	DefaultStepPercent       float64   `json:"default_step_percent"`
	DefaultMode              Mode      `json:"default_mode"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Credentials are decrypted exchange API credentials.
type Credentials struct {
	APIKey    string
	APISecret string
}

// String returns a redacted representation suitable for logging.
func (c Credentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=****}", redact(c.APIKey))
}

// EncryptedCredentials is the stored form of an owner's exchange credentials.
type EncryptedCredentials struct {
	OwnerID      string
	APIKey       string
	APISecretEnc string
	UpdatedAt    time.Time
}

// CredentialSource resolves decrypted credentials for an owner. It returns
// ErrCredentialsMissing when the owner has none linked.
type CredentialSource interface {
	Credentials(ctx context.Context, ownerID string) (Credentials, error)
}
