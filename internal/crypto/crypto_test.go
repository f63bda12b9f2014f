package crypto

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignQueryAtKnownVector(t *testing.T) {
	// Example request from the exchange's signed-endpoint documentation.
	h := &HMACAuth{
		Key:    "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A",
		Secret: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j",
	}
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t,
		"c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71",
		h.Signature(payload))
	assert.True(t, h.Verify(payload, h.Signature(payload)))
	assert.False(t, h.Verify(payload+"x", h.Signature(payload)))
}

func TestSignQueryAtAddsTimestampAndSignature(t *testing.T) {
	h := &HMACAuth{Key: "k", Secret: "s"}
	params := url.Values{}
	params.Set("symbol", "BTCUSDT")

	q := h.SignQueryAt(params, 5000, 1700000000000)
	idx := strings.LastIndex(q, "&signature=")
	require.Positive(t, idx)

	body, sig := q[:idx], q[idx+len("&signature="):]
	assert.Equal(t, "recvWindow=5000&symbol=BTCUSDT&timestamp=1700000000000", body)
	assert.True(t, h.Verify(body, sig))
}

func TestHMACAuthStringRedacts(t *testing.T) {
	h := &HMACAuth{Key: "abcdefgh", Secret: "topsecret"}
	s := h.String()
	assert.NotContains(t, s, "topsecret")
	assert.Contains(t, s, "abcd****")
}

func newTestVault(t *testing.T, pass string) *Vault {
	t.Helper()
	v, err := NewVault(pass)
	require.NoError(t, err)
	v.iterations = 1000
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	v := newTestVault(t, "correct horse")

	sealed, err := v.Seal("api-secret-value")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "api-secret-value")

	again, err := v.Seal("api-secret-value")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "random salt and nonce per seal")

	plain, err := v.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-secret-value", plain)
}

func TestVaultWrongPassphrase(t *testing.T) {
	sealed, err := newTestVault(t, "one").Seal("x")
	require.NoError(t, err)

	_, err = newTestVault(t, "two").Open(sealed)
	assert.Error(t, err)
}

func TestVaultRejectsGarbage(t *testing.T) {
	v := newTestVault(t, "p")
	for _, in := range []string{"plain", "ENC[v1]:!!!", "ENC[v1]:AAAA"} {
		_, err := v.Open(in)
		assert.Error(t, err, in)
	}

	_, err := NewVault("")
	assert.Error(t, err)
}
