package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

var titles = map[domain.EventType]string{
	domain.EventPositionOpened:  "Position opened",
	domain.EventTakeProfitMoved: "Take-profit moved",
	domain.EventPositionClosed:  "Position closed",
	domain.EventCloseFailed:     "Close failed",
	domain.EventSyncFailed:      "Account sync failed",
}

// Format renders evt as a title and a plain multi-line body.
func Format(evt domain.Event) (string, string) {
	title, ok := titles[evt.Type]
	if !ok {
		title = string(evt.Type)
	}
	if evt.Symbol != "" {
		title += " " + evt.Symbol
	}

	var b strings.Builder
	if evt.PositionID != "" {
		fmt.Fprintf(&b, "position: %s\n", evt.PositionID)
	}
	if evt.OwnerID != "" {
		fmt.Fprintf(&b, "owner: %s\n", evt.OwnerID)
	}

	keys := make([]string, 0, len(evt.Payload))
	for k := range evt.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, evt.Payload[k])
	}
	if !evt.At.IsZero() {
		fmt.Fprintf(&b, "at: %s", evt.At.UTC().Format("2006-01-02 15:04:05Z"))
	}
	return title, strings.TrimRight(b.String(), "\n")
}
