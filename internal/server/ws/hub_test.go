package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

type fixedPrices []domain.PriceEntry

func (f fixedPrices) Snapshot() []domain.PriceEntry { return f }

func startHub(t *testing.T, prices PriceSnapshotter) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(prices, 20*time.Millisecond, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var env map[string]any
		require.NoError(t, json.Unmarshal(msg, &env))
		if env["type"] == wantType {
			return env
		}
	}
	t.Fatalf("no %s frame received", wantType)
	return nil
}

func TestHubStreamsPrices(t *testing.T) {
	_, ts := startHub(t, fixedPrices{{Symbol: "BTCUSDT", Price: 64000, Connected: true}})
	conn := dial(t, ts, "")

	env := readEnvelope(t, conn, "prices")
	assert.Equal(t, ChannelPrices, env["channel"])
	payload := env["payload"].([]any)
	require.Len(t, payload, 1)
	assert.Equal(t, "BTCUSDT", payload[0].(map[string]any)["symbol"])
}

func TestHubRoutesEventsByOwner(t *testing.T) {
	hub, ts := startHub(t, nil)
	mine := dial(t, ts, "?owner_id=u1")
	all := dial(t, ts, "")

	// Registration happens asynchronously after the handshake.
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	hub.Publish(ctx, domain.Event{Type: domain.EventPositionOpened, OwnerID: "u2", PositionID: "p2"})
	hub.Publish(ctx, domain.Event{Type: domain.EventPositionClosed, OwnerID: "u1", PositionID: "p1"})

	env := readEnvelope(t, mine, "event")
	assert.Equal(t, "events:u1", env["channel"])
	assert.Equal(t, "p1", env["payload"].(map[string]any)["position_id"])

	first := readEnvelope(t, all, "event")
	assert.Equal(t, "events:u2", first["channel"])
	second := readEnvelope(t, all, "event")
	assert.Equal(t, "events:u1", second["channel"])
}

func TestClientSubscriptionMatching(t *testing.T) {
	c := &client{subs: map[string]bool{"events:*": true}}
	assert.True(t, c.isSubscribed("events:u1"))
	assert.False(t, c.isSubscribed(ChannelPrices))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{ChannelPrices}})
	assert.True(t, c.isSubscribed(ChannelPrices))
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"events:*"}})
	assert.False(t, c.isSubscribed("events:u1"))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://dash.example"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://dash.example")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}
