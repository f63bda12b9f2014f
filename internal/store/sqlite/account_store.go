package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// AccountStore implements domain.AccountStore on SQLite.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore creates an AccountStore on the given handle.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// GetSettings returns the owner's settings or domain.ErrNotFound.
func (s *AccountStore) GetSettings(ctx context.Context, ownerID string) (domain.UserSettings, error) {
	var us domain.UserSettings
	var mode string
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, display_symbol, fee_rate_bps, default_tp_percent,
		       default_step_percent, default_mode, updated_at
		FROM user_settings WHERE owner_id = ?`, ownerID,
	).Scan(&us.OwnerID, &us.DisplaySymbol, &us.FeeRateBps, &us.DefaultTakeProfitPercent,
		&us.DefaultStepPercent, &mode, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserSettings{}, domain.ErrNotFound
		}
		return domain.UserSettings{}, fmt.Errorf("sqlite: get settings for %s: %w", ownerID, err)
	}
	us.DefaultMode = domain.Mode(mode)
	us.UpdatedAt = fromMs(updated)
	return us, nil
}

// SaveSettings upserts the owner's settings.
func (s *AccountStore) SaveSettings(ctx context.Context, us domain.UserSettings) error {
	mode := us.DefaultMode
	if mode == "" {
		mode = domain.ModeSimulated
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (
			owner_id, display_symbol, fee_rate_bps, default_tp_percent,
			default_step_percent, default_mode, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			display_symbol       = excluded.display_symbol,
			fee_rate_bps         = excluded.fee_rate_bps,
			default_tp_percent   = excluded.default_tp_percent,
			default_step_percent = excluded.default_step_percent,
			default_mode         = excluded.default_mode,
			updated_at           = excluded.updated_at`,
		us.OwnerID, us.DisplaySymbol, us.FeeRateBps, us.DefaultTakeProfitPercent,
		us.DefaultStepPercent, string(mode), toMs(us.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save settings for %s: %w", us.OwnerID, err)
	}
	return nil
}

// DisplaySymbols returns every distinct non-empty display symbol.
func (s *AccountStore) DisplaySymbols(ctx context.Context) ([]string, error) {
	syms, err := queryStrings(ctx, s.db,
		`SELECT DISTINCT display_symbol FROM user_settings WHERE display_symbol <> '' ORDER BY display_symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: display symbols: %w", err)
	}
	return syms, nil
}

// SaveCredentials upserts the owner's encrypted credentials.
func (s *AccountStore) SaveCredentials(ctx context.Context, c domain.EncryptedCredentials) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_credentials (owner_id, api_key, api_secret_enc, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			api_key        = excluded.api_key,
			api_secret_enc = excluded.api_secret_enc,
			updated_at     = excluded.updated_at`,
		c.OwnerID, c.APIKey, c.APISecretEnc, toMs(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save credentials for %s: %w", c.OwnerID, err)
	}
	return nil
}

// GetCredentials returns stored credentials or domain.ErrCredentialsMissing.
func (s *AccountStore) GetCredentials(ctx context.Context, ownerID string) (domain.EncryptedCredentials, error) {
	var c domain.EncryptedCredentials
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, api_key, api_secret_enc, updated_at FROM exchange_credentials WHERE owner_id = ?`, ownerID,
	).Scan(&c.OwnerID, &c.APIKey, &c.APISecretEnc, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EncryptedCredentials{}, domain.ErrCredentialsMissing
		}
		return domain.EncryptedCredentials{}, fmt.Errorf("sqlite: get credentials for %s: %w", ownerID, err)
	}
	c.UpdatedAt = fromMs(updated)
	return c, nil
}

// LinkedOwners returns the owners that have credentials stored.
func (s *AccountStore) LinkedOwners(ctx context.Context) ([]string, error) {
	owners, err := queryStrings(ctx, s.db, `SELECT owner_id FROM exchange_credentials ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: linked owners: %w", err)
	}
	return owners, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
