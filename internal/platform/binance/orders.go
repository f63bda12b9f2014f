// Package binance talks to the exchange REST API: signed market orders and
// account balances.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/trailbot/internal/crypto"
	"github.com/alanyoungcy/trailbot/internal/domain"
)

// OrderClient places signed spot orders.
type OrderClient struct {
	baseURL      string
	httpClient   *http.Client
	recvWindowMs int64
}

// NewOrderClient creates an OrderClient against baseURL.
func NewOrderClient(baseURL string, recvWindowMs int64, timeout time.Duration) *OrderClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OrderClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		recvWindowMs: recvWindowMs,
	}
}

// MarketOrder describes a MARKET order. Exactly one of QuoteQty (buy by
// quote amount) and Quantity (sell by base amount) is set.
type MarketOrder struct {
	Symbol   string
	Side     domain.TradeSide
	QuoteQty string
	Quantity string
}

// OrderFill is one partial fill of an order response.
type OrderFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

// OrderResponse is the FULL order response.
type OrderResponse struct {
	Symbol              string      `json:"symbol"`
	OrderID             int64       `json:"orderId"`
	Status              string      `json:"status"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	Fills               []OrderFill `json:"fills"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// PlaceMarketOrder submits order signed with auth.
func (c *OrderClient) PlaceMarketOrder(ctx context.Context, auth *crypto.HMACAuth, order MarketOrder) (OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("type", "MARKET")
	params.Set("newOrderRespType", "FULL")
	if order.QuoteQty != "" {
		params.Set("quoteOrderQty", order.QuoteQty)
	}
	if order.Quantity != "" {
		params.Set("quantity", order.Quantity)
	}

	body, err := c.doSignedRequest(ctx, auth, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return OrderResponse{}, err
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("binance: decode order response: %w", err)
	}
	return resp, nil
}

// doSignedRequest sends a signed request with the query in the body and the
// API key in the X-MBX-APIKEY header. It returns the raw response body.
func (c *OrderClient) doSignedRequest(ctx context.Context, auth *crypto.HMACAuth, method, path string, params url.Values) ([]byte, error) {
	payload := auth.SignQuery(params, c.recvWindowMs)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("binance: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-MBX-APIKEY", auth.Key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors carrying the
// exchange code and message.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	detail := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
		detail = fmt.Sprintf("code %d: %s", apiErr.Code, apiErr.Msg)
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, detail)
	case http.StatusTooManyRequests, http.StatusTeapot:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstreamRejected, statusCode, detail)
	}
}
