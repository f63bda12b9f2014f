// Package crypto provides request signing for the exchange REST API and the
// vault that keeps exchange credentials encrypted at rest.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for signed exchange requests.
type HMACAuth struct {
	Key    string // API key, sent as a header
	Secret string // API secret, used as the HMAC key
}

// SignQuery adds timestamp and recvWindow (when > 0) to params and returns the
// canonical query string with its signature appended. The signature is
// hex(HMAC-SHA256(secret, query)).
func (h *HMACAuth) SignQuery(params url.Values, recvWindowMs int64) string {
	return h.SignQueryAt(params, recvWindowMs, time.Now().UnixMilli())
}

// SignQueryAt is like SignQuery but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (h *HMACAuth) SignQueryAt(params url.Values, recvWindowMs int64, unixMs int64) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(unixMs, 10))
	if recvWindowMs > 0 {
		params.Set("recvWindow", strconv.FormatInt(recvWindowMs, 10))
	}
	query := params.Encode()
	return query + "&signature=" + h.Signature(query)
}

// Signature returns the hex HMAC-SHA256 of payload.
func (h *HMACAuth) Signature(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload, in constant time.
func (h *HMACAuth) Verify(payload, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hmac.Equal(mac.Sum(nil), want)
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
