package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// AccountService defines what the account handler needs.
type AccountService interface {
	LinkCredentials(ctx context.Context, ownerID, apiKey, apiSecret string) error
	Settings(ctx context.Context, ownerID string) (domain.UserSettings, error)
	UpdateSettings(ctx context.Context, us domain.UserSettings) (domain.UserSettings, error)
	Portfolio(ctx context.Context, ownerID string) (domain.PortfolioSnapshot, error)
}

// LedgerService reads the trade and audit ledgers.
type LedgerService interface {
	Trades(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Trade, error)
	Audit(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AccountHandler serves per-owner settings, credentials, portfolio and
// ledger endpoints.
type AccountHandler struct {
	accounts AccountService
	ledger   LedgerService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, ledger LedgerService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, ledger: ledger, logger: logger}
}

// GetPortfolio returns the owner's last synced snapshot.
// GET /api/accounts/{owner}/portfolio
func (h *AccountHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := h.accounts.Portfolio(r.Context(), r.PathValue("owner"))
	if err != nil {
		writeServiceError(w, err, "failed to load portfolio")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetSettings returns the owner's settings.
// GET /api/accounts/{owner}/settings
func (h *AccountHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	us, err := h.accounts.Settings(r.Context(), r.PathValue("owner"))
	if err != nil {
		writeServiceError(w, err, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, us)
}

// PutSettings replaces the owner's settings.
// PUT /api/accounts/{owner}/settings
func (h *AccountHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var us domain.UserSettings
	if err := decodeJSON(r, &us); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	us.OwnerID = r.PathValue("owner")

	saved, err := h.accounts.UpdateSettings(r.Context(), us)
	if err != nil {
		writeServiceError(w, err, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type credentialsRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// PutCredentials links exchange credentials to the owner. The secret is
// never returned.
// PUT /api/accounts/{owner}/credentials
func (h *AccountHandler) PutCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner := r.PathValue("owner")
	if err := h.accounts.LinkCredentials(r.Context(), owner, req.APIKey, req.APISecret); err != nil {
		h.logger.WarnContext(r.Context(), "handler: link credentials failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err, "failed to link credentials")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTrades returns the owner's fills, newest first.
// GET /api/accounts/{owner}/trades
func (h *AccountHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.ledger.Trades(r.Context(), r.PathValue("owner"), opts)
	if err != nil {
		writeServiceError(w, err, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListAudit returns audit entries, optionally for one owner.
// GET /api/audit?owner_id=...
func (h *AccountHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.ledger.Audit(r.Context(), r.URL.Query().Get("owner_id"), opts)
	if err != nil {
		writeServiceError(w, err, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
