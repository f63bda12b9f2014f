package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/trailbot/internal/crypto"
	"github.com/alanyoungcy/trailbot/internal/domain"
)

// AccountService manages per-owner settings, linked exchange credentials and
// portfolio snapshots. It is also the vault-backed domain.CredentialSource
// used by live execution and account sync.
type AccountService struct {
	accounts  domain.AccountStore
	snapshots domain.SnapshotStore
	audit     domain.AuditStore
	vault     *crypto.Vault
	logger    *slog.Logger
	now       func() time.Time
}

// NewAccountService creates an AccountService. vault may be nil when no
// passphrase is configured; credential operations then fail.
func NewAccountService(
	accounts domain.AccountStore,
	snapshots domain.SnapshotStore,
	audit domain.AuditStore,
	vault *crypto.Vault,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts:  accounts,
		snapshots: snapshots,
		audit:     audit,
		vault:     vault,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var errVaultDisabled = errors.New("credential vault not configured")

// LinkCredentials encrypts and stores an owner's exchange credentials.
func (s *AccountService) LinkCredentials(ctx context.Context, ownerID, apiKey, apiSecret string) error {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" || strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" {
		return fmt.Errorf("account_service: owner, api key and secret are required: %w", domain.ErrInvalidPosition)
	}
	if s.vault == nil {
		return fmt.Errorf("account_service: %w", errVaultDisabled)
	}

	sealed, err := s.vault.Seal(apiSecret)
	if err != nil {
		return fmt.Errorf("account_service: seal secret: %w", err)
	}
	now := s.now()
	if err := s.accounts.SaveCredentials(ctx, domain.EncryptedCredentials{
		OwnerID:      ownerID,
		APIKey:       apiKey,
		APISecretEnc: sealed,
		UpdatedAt:    now,
	}); err != nil {
		return fmt.Errorf("account_service: save credentials: %w", err)
	}

	creds := domain.Credentials{APIKey: apiKey}
	s.appendAudit(ctx, domain.AuditEntry{
		CreatedAt: now,
		OwnerID:   ownerID,
		Scope:     domain.ScopeAPI,
		Action:    domain.ActionCredentialsLinked,
		Payload:   map[string]any{"credentials": creds.String()},
	})
	s.logger.InfoContext(ctx, "account_service: credentials linked",
		slog.String("owner", ownerID),
		slog.String("credentials", creds.String()),
	)
	return nil
}

// Credentials returns an owner's decrypted credentials.
func (s *AccountService) Credentials(ctx context.Context, ownerID string) (domain.Credentials, error) {
	enc, err := s.accounts.GetCredentials(ctx, ownerID)
	if err != nil {
		return domain.Credentials{}, err
	}
	if s.vault == nil {
		return domain.Credentials{}, fmt.Errorf("account_service: %w", errVaultDisabled)
	}
	secret, err := s.vault.Open(enc.APISecretEnc)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("account_service: open secret for %s: %w", ownerID, err)
	}
	return domain.Credentials{APIKey: enc.APIKey, APISecret: secret}, nil
}

// Settings returns the owner's settings, or zero-valued settings when none
// were saved.
func (s *AccountService) Settings(ctx context.Context, ownerID string) (domain.UserSettings, error) {
	us, err := s.accounts.GetSettings(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.UserSettings{OwnerID: ownerID, DefaultMode: domain.ModeSimulated}, nil
	}
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("account_service: settings for %q: %w", ownerID, err)
	}
	return us, nil
}

// UpdateSettings validates and stores the owner's settings.
func (s *AccountService) UpdateSettings(ctx context.Context, us domain.UserSettings) (domain.UserSettings, error) {
	us.OwnerID = strings.TrimSpace(us.OwnerID)
	us.DisplaySymbol = strings.ToUpper(strings.TrimSpace(us.DisplaySymbol))
	if us.DefaultMode == "" {
		us.DefaultMode = domain.ModeSimulated
	}

	var problems []string
	if us.OwnerID == "" {
		problems = append(problems, "owner_id is required")
	}
	if !us.DefaultMode.Valid() {
		problems = append(problems, fmt.Sprintf("unknown mode %q", us.DefaultMode))
	}
	if us.FeeRateBps != nil && (*us.FeeRateBps < 0 || *us.FeeRateBps > 10_000) {
		problems = append(problems, "fee_rate_bps must be in [0, 10000]")
	}
	if us.DefaultTakeProfitPercent < 0 || us.DefaultTakeProfitPercent > 1 {
		problems = append(problems, "default_take_profit_percent must be in [0, 1]")
	}
	if us.DefaultStepPercent < 0 || us.DefaultStepPercent >= 1 {
		problems = append(problems, "default_step_percent must be in [0, 1)")
	}
	if len(problems) > 0 {
		return domain.UserSettings{}, fmt.Errorf("%w: %s", domain.ErrInvalidPosition, strings.Join(problems, "; "))
	}

	us.UpdatedAt = s.now()
	if err := s.accounts.SaveSettings(ctx, us); err != nil {
		return domain.UserSettings{}, fmt.Errorf("account_service: save settings: %w", err)
	}
	s.appendAudit(ctx, domain.AuditEntry{
		CreatedAt: us.UpdatedAt,
		OwnerID:   us.OwnerID,
		Scope:     domain.ScopeAPI,
		Action:    domain.ActionSettingsUpdated,
		Payload: map[string]any{
			"display_symbol": us.DisplaySymbol,
			"default_mode":   string(us.DefaultMode),
		},
	})
	return us, nil
}

// Portfolio returns the owner's latest synced snapshot.
func (s *AccountService) Portfolio(ctx context.Context, ownerID string) (domain.PortfolioSnapshot, error) {
	return s.snapshots.Get(ctx, ownerID)
}

func (s *AccountService) appendAudit(ctx context.Context, e domain.AuditEntry) {
	if err := s.audit.Append(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "account_service: audit log failed",
			slog.String("action", e.Action),
			slog.String("error", err.Error()),
		)
	}
}

var _ domain.CredentialSource = (*AccountService)(nil)
