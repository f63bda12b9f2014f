package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// PriceReader is the read side of the price service.
type PriceReader interface {
	Snapshot() []domain.PriceEntry
	Get(symbol string) (domain.PriceEntry, error)
}

// PriceService adds manual overrides to PriceReader.
type PriceService interface {
	PriceReader
	SetOverride(ctx context.Context, symbol string, price float64) error
	ClearOverride(ctx context.Context, symbol string) error
}

// PriceHandler serves the price table and overrides.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

// ListPrices returns every known symbol sorted by name.
// GET /api/prices
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	entries := h.prices.Snapshot()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Symbol < entries[j].Symbol })
	if entries == nil {
		entries = []domain.PriceEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": entries})
}

// GetPrice returns one symbol.
// GET /api/prices/{symbol}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	e, err := h.prices.Get(r.PathValue("symbol"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no price for symbol")
			return
		}
		writeServiceError(w, err, "failed to load price")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type overrideRequest struct {
	Price float64 `json:"price"`
}

// SetOverride pins a symbol's price.
// PUT /api/prices/{symbol}/override
func (h *PriceHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	symbol := r.PathValue("symbol")
	if err := h.prices.SetOverride(r.Context(), symbol, req.Price); err != nil {
		writeServiceError(w, err, "failed to set override")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "price": req.Price})
}

// ClearOverride removes a symbol's override.
// DELETE /api/prices/{symbol}/override
func (h *PriceHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.prices.ClearOverride(r.Context(), r.PathValue("symbol")); err != nil {
		writeServiceError(w, err, "failed to clear override")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
