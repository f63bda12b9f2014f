// Package feed keeps the price cache fed from the exchange trade stream.
package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// Tick is one trade observed on the stream.
type Tick struct {
	Symbol    string
	Price     float64
	EventTime int64 // exchange event time, unix ms
}

// streamEnvelope is the combined-stream wrapper around each payload.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
}

// StreamURL builds the combined trade stream URL for symbols.
func StreamURL(base string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@trade"
	}
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// ParseTick decodes a combined-stream trade message. Non-trade payloads
// return ok=false and no error.
func ParseTick(msg []byte) (Tick, bool, error) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Tick{}, false, fmt.Errorf("feed: decode envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return Tick{}, false, nil
	}

	var ev tradeEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return Tick{}, false, fmt.Errorf("feed: decode trade: %w", err)
	}
	if ev.EventType != "trade" {
		return Tick{}, false, nil
	}

	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil {
		return Tick{}, false, fmt.Errorf("feed: parse price %q: %w", ev.Price, err)
	}
	if !domain.UsablePrice(price) {
		return Tick{}, false, fmt.Errorf("feed: unusable price %q for %s", ev.Price, ev.Symbol)
	}
	return Tick{
		Symbol:    strings.ToUpper(ev.Symbol),
		Price:     price,
		EventTime: ev.EventTime,
	}, true, nil
}
