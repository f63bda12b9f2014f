package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// AccountClient fetches spot balances through the go-binance SDK. A client
// is built per call because credentials differ per owner.
type AccountClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAccountClient creates an AccountClient. An empty baseURL keeps the SDK
// default endpoint.
func NewAccountClient(baseURL string, timeout time.Duration) *AccountClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AccountClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Balances returns every non-zero asset balance of the account.
func (c *AccountClient) Balances(ctx context.Context, creds domain.Credentials) ([]domain.AssetBalance, error) {
	client := gobinance.NewClient(creds.APIKey, creds.APISecret)
	if c.baseURL != "" {
		client.BaseURL = c.baseURL
	}
	client.HTTPClient = c.httpClient

	acct, err := client.NewGetAccountService().Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: code %d: %s", domain.ErrUpstreamRejected, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("binance: get account: %w", err)
	}

	out := make([]domain.AssetBalance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse free %s: %w", b.Asset, err)
		}
		locked, err := strconv.ParseFloat(b.Locked, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse locked %s: %w", b.Asset, err)
		}
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, domain.AssetBalance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}
