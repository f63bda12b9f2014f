package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// GetSettings returns the owner's settings or domain.ErrNotFound.
func (s *AccountStore) GetSettings(ctx context.Context, ownerID string) (domain.UserSettings, error) {
	const query = `
		SELECT owner_id, display_symbol, fee_rate_bps, default_tp_percent,
		       default_step_percent, default_mode, updated_at
		FROM user_settings WHERE owner_id = $1`

	var us domain.UserSettings
	var mode string
	err := s.pool.QueryRow(ctx, query, ownerID).Scan(
		&us.OwnerID, &us.DisplaySymbol, &us.FeeRateBps, &us.DefaultTakeProfitPercent,
		&us.DefaultStepPercent, &mode, &us.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserSettings{}, domain.ErrNotFound
		}
		return domain.UserSettings{}, fmt.Errorf("postgres: get settings for %s: %w", ownerID, err)
	}
	us.DefaultMode = domain.Mode(mode)
	return us, nil
}

// SaveSettings upserts the owner's settings.
func (s *AccountStore) SaveSettings(ctx context.Context, us domain.UserSettings) error {
	mode := us.DefaultMode
	if mode == "" {
		mode = domain.ModeSimulated
	}
	const query = `
		INSERT INTO user_settings (
			owner_id, display_symbol, fee_rate_bps, default_tp_percent,
			default_step_percent, default_mode, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id) DO UPDATE SET
			display_symbol       = EXCLUDED.display_symbol,
			fee_rate_bps         = EXCLUDED.fee_rate_bps,
			default_tp_percent   = EXCLUDED.default_tp_percent,
			default_step_percent = EXCLUDED.default_step_percent,
			default_mode         = EXCLUDED.default_mode,
			updated_at           = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query,
		us.OwnerID, us.DisplaySymbol, us.FeeRateBps, us.DefaultTakeProfitPercent,
		us.DefaultStepPercent, string(mode), us.UpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: save settings for %s: %w", us.OwnerID, err)
	}
	return nil
}

// DisplaySymbols returns every distinct non-empty display symbol.
func (s *AccountStore) DisplaySymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT display_symbol FROM user_settings WHERE display_symbol <> '' ORDER BY display_symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: display symbols: %w", err)
	}
	syms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan display symbols: %w", err)
	}
	return syms, nil
}

// SaveCredentials upserts the owner's encrypted credentials.
func (s *AccountStore) SaveCredentials(ctx context.Context, c domain.EncryptedCredentials) error {
	const query = `
		INSERT INTO exchange_credentials (owner_id, api_key, api_secret_enc, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE SET
			api_key        = EXCLUDED.api_key,
			api_secret_enc = EXCLUDED.api_secret_enc,
			updated_at     = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, c.OwnerID, c.APIKey, c.APISecretEnc, c.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: save credentials for %s: %w", c.OwnerID, err)
	}
	return nil
}

// GetCredentials returns the stored credentials or domain.ErrCredentialsMissing.
func (s *AccountStore) GetCredentials(ctx context.Context, ownerID string) (domain.EncryptedCredentials, error) {
	const query = `SELECT owner_id, api_key, api_secret_enc, updated_at FROM exchange_credentials WHERE owner_id = $1`

	var c domain.EncryptedCredentials
	err := s.pool.QueryRow(ctx, query, ownerID).Scan(&c.OwnerID, &c.APIKey, &c.APISecretEnc, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EncryptedCredentials{}, domain.ErrCredentialsMissing
		}
		return domain.EncryptedCredentials{}, fmt.Errorf("postgres: get credentials for %s: %w", ownerID, err)
	}
	return c, nil
}

// LinkedOwners returns the owners that have credentials stored.
func (s *AccountStore) LinkedOwners(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT owner_id FROM exchange_credentials ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: linked owners: %w", err)
	}
	owners, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan linked owners: %w", err)
	}
	return owners, nil
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
