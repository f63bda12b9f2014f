package executor

import (
	"fmt"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// Router selects the execution adapter for a position mode.
type Router struct {
	simulated domain.ExecutionAdapter
	live      domain.ExecutionAdapter
}

// NewRouter creates a Router. live may be nil when live trading is not
// configured; LIVE requests then fail with ErrCredentialsMissing.
func NewRouter(simulated, live domain.ExecutionAdapter) *Router {
	return &Router{simulated: simulated, live: live}
}

// For returns the adapter for mode.
func (r *Router) For(mode domain.Mode) (domain.ExecutionAdapter, error) {
	switch mode {
	case domain.ModeSimulated:
		return r.simulated, nil
	case domain.ModeLive:
		if r.live == nil {
			return nil, fmt.Errorf("executor: live trading not configured: %w", domain.ErrCredentialsMissing)
		}
		return r.live, nil
	default:
		return nil, fmt.Errorf("executor: unknown mode %q: %w", mode, domain.ErrInvalidPosition)
	}
}
