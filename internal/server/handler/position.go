package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Open(ctx context.Context, req domain.OpenRequest) (domain.OpenResult, error)
	ManualClose(ctx context.Context, id string) (domain.Position, error)
	Pause(ctx context.Context, id string) (domain.Position, error)
	Resume(ctx context.Context, id string) (domain.Position, error)
	Stop(ctx context.Context, id string) (domain.Position, error)
	Get(ctx context.Context, id string) (domain.Position, error)
	List(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Position, error)
	Trades(ctx context.Context, id string) ([]domain.Trade, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns an owner's positions, newest first.
// GET /api/positions?owner_id=...&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter required")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	positions, err := h.positions.List(r.Context(), owner, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// OpenPosition buys at market and starts monitoring. The idempotency token
// may come from the body or the Idempotency-Key header. A replayed token
// answers 200 with the original position; a fresh open answers 201.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IdempotencyToken == "" {
		req.IdempotencyToken = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	res, err := h.positions.Open(r.Context(), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: open position failed",
			slog.String("owner", req.OwnerID),
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err, "failed to open position")
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "failed to load position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListTrades returns the BUY and optional SELL fills of a position.
// GET /api/positions/{id}/trades
func (h *PositionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.positions.Trades(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ClosePosition sells the position at market. Closing a position another
// writer already closed answers 200 with its current state.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "close", h.closeOnce)
}

func (h *PositionHandler) closeOnce(ctx context.Context, id string) (domain.Position, error) {
	pos, err := h.positions.ManualClose(ctx, id)
	if !errors.Is(err, domain.ErrAlreadyClosed) {
		return pos, err
	}
	h.logger.InfoContext(ctx, "handler: position already closed",
		slog.String("position_id", id),
	)
	return h.positions.Get(ctx, id)
}

// PausePosition suspends monitoring.
// POST /api/positions/{id}/pause
func (h *PositionHandler) PausePosition(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "pause", h.positions.Pause)
}

// ResumePosition restarts monitoring of a paused position.
// POST /api/positions/{id}/resume
func (h *PositionHandler) ResumePosition(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "resume", h.positions.Resume)
}

// StopPosition ends monitoring without selling.
// POST /api/positions/{id}/stop
func (h *PositionHandler) StopPosition(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "stop", h.positions.Stop)
}

func (h *PositionHandler) action(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context, string) (domain.Position, error)) {
	id := r.PathValue("id")
	pos, err := fn(r.Context(), id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: position action failed",
			slog.String("action", name),
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err, "failed to "+name+" position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
