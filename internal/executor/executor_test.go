package executor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trailbot/internal/crypto"
	"github.com/alanyoungcy/trailbot/internal/domain"
	"github.com/alanyoungcy/trailbot/internal/platform/binance"
)

type staticPrices map[string]float64

func (s staticPrices) Price(symbol string) (float64, bool) {
	p, ok := s[symbol]
	return p, ok && p > 0
}

type settingsMap map[string]domain.UserSettings

func (m settingsMap) GetSettings(_ context.Context, ownerID string) (domain.UserSettings, error) {
	us, ok := m[ownerID]
	if !ok {
		return domain.UserSettings{}, domain.ErrNotFound
	}
	return us, nil
}

type credsMap map[string]domain.Credentials

func (m credsMap) Credentials(_ context.Context, ownerID string) (domain.Credentials, error) {
	c, ok := m[ownerID]
	if !ok {
		return domain.Credentials{}, domain.ErrCredentialsMissing
	}
	return c, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSimulatedOpenAndClose(t *testing.T) {
	ctx := context.Background()
	fee := 20.0
	sim := NewSimulated(
		staticPrices{"BTCUSDT": 50_000},
		settingsMap{"vip": {OwnerID: "vip", FeeRateBps: &fee}},
		10, discardLogger(),
	)

	tests := []struct {
		name    string
		owner   string
		wantFee float64
	}{
		{name: "default fee", owner: "alice", wantFee: 1},
		{name: "owner fee", owner: "vip", wantFee: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fill, err := sim.PlaceOpen(ctx, tt.owner, "BTCUSDT", 1000)
			require.NoError(t, err)
			assert.InDelta(t, 0.02, fill.Quantity, 1e-12)
			assert.Equal(t, 50_000.0, fill.AvgPrice)
			assert.InDelta(t, tt.wantFee, fill.Fee, 1e-9)
			assert.True(t, strings.HasPrefix(fill.OrderID, "sim-"))
		})
	}

	fill, err := sim.PlaceClose(ctx, "alice", "BTCUSDT", 0.02)
	require.NoError(t, err)
	assert.Equal(t, 0.02, fill.Quantity)
	assert.InDelta(t, 1000, fill.Notional(), 1e-9)
	assert.InDelta(t, 1, fill.Fee, 1e-9)
}

func TestSimulatedWithoutPrice(t *testing.T) {
	sim := NewSimulated(staticPrices{}, nil, 10, discardLogger())

	_, err := sim.PlaceOpen(context.Background(), "alice", "ETHUSDT", 100)
	assert.ErrorIs(t, err, domain.ErrNoPriceAvailable)
	_, err = sim.PlaceClose(context.Background(), "alice", "ETHUSDT", 1)
	assert.ErrorIs(t, err, domain.ErrNoPriceAvailable)
	_, err = sim.PlaceOpen(context.Background(), "alice", "ETHUSDT", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)
}

func newLive(t *testing.T, handler http.HandlerFunc) *Live {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := binance.NewOrderClient(srv.URL, 5000, 5*time.Second)
	return NewLive(client,
		credsMap{"alice": {APIKey: "key-a", APISecret: "secret-a"}},
		staticPrices{"BTCUSDT": 50_000},
		"USDT", 10, discardLogger(),
	)
}

func TestLivePlaceOpenSignsRequest(t *testing.T) {
	var form url.Values
	live := newLive(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "key-a", r.Header.Get("X-MBX-APIKEY"))

		body, _ := io.ReadAll(r.Body)
		raw := string(body)
		idx := strings.LastIndex(raw, "&signature=")
		if !assert.Positive(t, idx) {
			return
		}
		auth := &crypto.HMACAuth{Secret: "secret-a"}
		assert.True(t, auth.Verify(raw[:idx], raw[idx+len("&signature="):]))

		form, _ = url.ParseQuery(raw)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"symbol":              "BTCUSDT",
			"orderId":             42,
			"status":              "FILLED",
			"executedQty":         "0.02000000",
			"cummulativeQuoteQty": "1000.00000000",
			"fills": []map[string]string{
				{"price": "50000", "qty": "0.01", "commission": "0.00001", "commissionAsset": "BTC"},
				{"price": "50000", "qty": "0.01", "commission": "0.5", "commissionAsset": "USDT"},
			},
		})
	})

	fill, err := live.PlaceOpen(context.Background(), "alice", "BTCUSDT", 1000)
	require.NoError(t, err)
	assert.Equal(t, "42", fill.OrderID)
	assert.InDelta(t, 0.02, fill.Quantity, 1e-12)
	assert.InDelta(t, 50_000, fill.AvgPrice, 1e-9)
	assert.InDelta(t, 1.0, fill.Fee, 1e-9)

	assert.Equal(t, "BUY", form.Get("side"))
	assert.Equal(t, "MARKET", form.Get("type"))
	assert.Equal(t, "1000", form.Get("quoteOrderQty"))
	assert.Equal(t, "FULL", form.Get("newOrderRespType"))
	assert.Equal(t, "5000", form.Get("recvWindow"))
	assert.NotEmpty(t, form.Get("timestamp"))
}

func TestLiveRejection(t *testing.T) {
	live := newLive(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})

	_, err := live.PlaceClose(context.Background(), "alice", "BTCUSDT", 0.5)
	require.ErrorIs(t, err, domain.ErrUpstreamRejected)
	assert.Contains(t, err.Error(), "-2010")
}

func TestLiveRequiresCredentialsAndPrice(t *testing.T) {
	called := false
	live := newLive(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := live.PlaceOpen(context.Background(), "bob", "BTCUSDT", 10)
	assert.ErrorIs(t, err, domain.ErrCredentialsMissing)

	_, err = live.PlaceOpen(context.Background(), "alice", "DOGEUSDT", 10)
	assert.ErrorIs(t, err, domain.ErrNoPriceAvailable)
	assert.False(t, called)
}

func TestRouter(t *testing.T) {
	sim := NewSimulated(staticPrices{}, nil, 0, discardLogger())
	r := NewRouter(sim, nil)

	got, err := r.For(domain.ModeSimulated)
	require.NoError(t, err)
	assert.Same(t, sim, got)

	_, err = r.For(domain.ModeLive)
	assert.ErrorIs(t, err, domain.ErrCredentialsMissing)

	_, err = r.For("PAPER")
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)
}
