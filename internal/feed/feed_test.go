package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trailbot/internal/cache/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSymbols struct {
	mu   sync.Mutex
	syms []string
}

func (f *fakeSymbols) RequiredSymbols(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.syms...), nil
}

func (f *fakeSymbols) set(syms ...string) {
	f.mu.Lock()
	f.syms = syms
	f.mu.Unlock()
}

func tradeMsg(symbol string, price string, eventMs int64) []byte {
	return []byte(fmt.Sprintf(
		`{"stream":"%s@trade","data":{"e":"trade","E":%d,"s":"%s","p":"%s","q":"0.1"}}`,
		strings.ToLower(symbol), eventMs, symbol, price,
	))
}

// streamServer accepts websocket connections, records each query string and
// hands the connection to serve.
type streamServer struct {
	mu      sync.Mutex
	queries []string
	serve   func(conn *websocket.Conn)
}

func (s *streamServer) handler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.queries = append(s.queries, r.URL.Query().Get("streams"))
	s.mu.Unlock()
	s.serve(conn)
}

func (s *streamServer) connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestStreamURL(t *testing.T) {
	got := StreamURL("wss://stream.example.com:9443/", []string{"BTCUSDT", "ethusdt"})
	assert.Equal(t, "wss://stream.example.com:9443/stream?streams=btcusdt@trade/ethusdt@trade", got)
}

func TestParseTick(t *testing.T) {
	tick, ok, err := ParseTick(tradeMsg("BTCUSDT", "64250.10", 1700000000000))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.InDelta(t, 64250.10, tick.Price, 1e-9)
	assert.Equal(t, int64(1700000000000), tick.EventTime)

	_, ok, err = ParseTick([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ParseTick([]byte(`{"stream":"x","data":{"e":"aggTrade","s":"X","p":"1"}}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseTick([]byte(`{"stream":"x","data":{"e":"trade","s":"X","p":"abc"}}`))
	assert.Error(t, err)

	_, _, err = ParseTick([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseTickRejectsUnusablePrices(t *testing.T) {
	for _, p := range []string{"NaN", "Inf", "-Inf", "0", "-1.5"} {
		t.Run(p, func(t *testing.T) {
			_, ok, err := ParseTick(tradeMsg("BTCUSDT", p, 1700000000000))
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestHandleTickIgnoresNonFinitePrice(t *testing.T) {
	cache := memory.NewPriceCache()
	m := NewManager(ManagerConfig{StreamURL: "ws://unused"}, &fakeSymbols{}, cache, nil, testLogger())

	m.handleTick(Tick{Symbol: "BTCUSDT", Price: 100, EventTime: time.Now().UnixMilli()})
	m.handleTick(Tick{Symbol: "BTCUSDT", Price: math.NaN(), EventTime: time.Now().UnixMilli()})
	m.handleTick(Tick{Symbol: "ETHUSDT", Price: math.Inf(1), EventTime: time.Now().UnixMilli()})

	e, ok := cache.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.0, e.Price)
	_, ok = cache.Get("ETHUSDT")
	assert.False(t, ok)

	m.markAllDisconnected()
	e, _ = cache.Get("BTCUSDT")
	assert.False(t, e.Connected)
}

func TestHandleTickLatencyAndOverride(t *testing.T) {
	cache := memory.NewPriceCache()
	overrides := memory.NewOverrideStore()
	m := NewManager(ManagerConfig{StreamURL: "ws://unused"}, &fakeSymbols{}, cache, overrides, testLogger())
	now := time.UnixMilli(1_700_000_000_000)
	m.now = func() time.Time { return now }

	m.handleTick(Tick{Symbol: "BTCUSDT", Price: 100, EventTime: now.UnixMilli() - 250})
	e, ok := cache.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, int64(250), e.LatencyMs)
	assert.True(t, e.Connected)
	assert.Equal(t, 100.0, e.Price)

	// Exchange clock ahead of ours.
	m.handleTick(Tick{Symbol: "BTCUSDT", Price: 101, EventTime: now.UnixMilli() + 5000})
	e, _ = cache.Get("BTCUSDT")
	assert.Equal(t, int64(0), e.LatencyMs)

	m.handleTick(Tick{Symbol: "BTCUSDT", Price: 102, EventTime: 0})
	e, _ = cache.Get("BTCUSDT")
	assert.Equal(t, int64(99_999), e.LatencyMs)

	require.NoError(t, overrides.Set(context.Background(), "BTCUSDT", 90))
	m.handleTick(Tick{Symbol: "BTCUSDT", Price: 103, EventTime: now.UnixMilli()})
	e, _ = cache.Get("BTCUSDT")
	assert.Equal(t, 90.0, e.Price)
}

func TestNormalizeSet(t *testing.T) {
	got := normalizeSet([]string{"ethusdt", " BTCUSDT", "", "ETHUSDT"})
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got)
	assert.True(t, sameSet(got, []string{"BTCUSDT", "ETHUSDT"}))
	assert.False(t, sameSet(got, []string{"BTCUSDT"}))
}

func TestManagerStreamsAndReconnects(t *testing.T) {
	drop := make(chan struct{})
	var once sync.Once
	srv := &streamServer{}
	srv.serve = func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, tradeMsg("BTCUSDT", "100.5", time.Now().UnixMilli()))
		first := false
		once.Do(func() { first = true })
		if first {
			<-drop
			return
		}
		// Later connections stay open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	cache := memory.NewPriceCache()
	syms := &fakeSymbols{syms: []string{"BTCUSDT"}}
	m := NewManager(ManagerConfig{
		StreamURL:      wsURL(ts),
		PollInterval:   20 * time.Millisecond,
		ReconnectDelay: 20 * time.Millisecond,
	}, syms, cache, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		e, ok := cache.Get("BTCUSDT")
		return ok && e.Connected && e.Price == 100.5
	}, 2*time.Second, 10*time.Millisecond)

	close(drop)
	require.Eventually(t, func() bool {
		return len(srv.connections()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	syms.set("BTCUSDT", "ETHUSDT")
	require.Eventually(t, func() bool {
		for _, q := range srv.connections() {
			if q == "btcusdt@trade/ethusdt@trade" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
	e, ok := cache.Get("BTCUSDT")
	require.True(t, ok)
	assert.False(t, e.Connected)
	assert.Equal(t, 100.5, e.Price)
}

func TestManagerMarksDisconnectedOnDrop(t *testing.T) {
	srv := &streamServer{}
	srv.serve = func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, tradeMsg("SOLUSDT", "150", time.Now().UnixMilli()))
		conn.Close()
	}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	cache := memory.NewPriceCache()
	m := NewManager(ManagerConfig{
		StreamURL:      wsURL(ts),
		PollInterval:   time.Second,
		ReconnectDelay: time.Minute,
	}, &fakeSymbols{syms: []string{"SOLUSDT"}}, cache, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, func() bool {
		e, ok := cache.Get("SOLUSDT")
		return ok && !e.Connected && e.Price == 150
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerIdleWithoutSymbols(t *testing.T) {
	srv := &streamServer{serve: func(conn *websocket.Conn) { conn.Close() }}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	m := NewManager(ManagerConfig{
		StreamURL:    wsURL(ts),
		PollInterval: 10 * time.Millisecond,
	}, &fakeSymbols{}, memory.NewPriceCache(), nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))
	assert.Empty(t, srv.connections())
}
