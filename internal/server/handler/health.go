package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// HealthHandler serves liveness and a short runtime summary.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	prices    PriceReader
	ping      func(ctx context.Context) error
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. ping checks the primary store and
// may be nil.
func NewHealthHandler(mode string, prices PriceReader, ping func(ctx context.Context) error, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		prices:    prices,
		ping:      ping,
		logger:    logger,
	}
}

// HealthCheck reports the process mode, uptime, feed coverage and store
// reachability. A failing store ping turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "handler: store ping failed", slog.String("error", err.Error()))
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	var entries []domain.PriceEntry
	if h.prices != nil {
		entries = h.prices.Snapshot()
	}
	connected := 0
	for _, e := range entries {
		if e.Connected {
			connected++
		}
	}

	writeJSON(w, code, map[string]any{
		"status":            status,
		"mode":              h.mode,
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
		"symbols":           len(entries),
		"symbols_connected": connected,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}
