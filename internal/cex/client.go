package cex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/synthfi-arb/arb/internal/transport"
)

// RESTCaller is the subset of transport.HTTPS the REST client needs.
type RESTCaller interface {
	Get(ctx context.Context, path string, headers map[string]string, query map[string]string) ([]byte, int, error)
	Post(ctx context.Context, path string, headers map[string]string, body []byte) ([]byte, int, error)
}

// Client is the CEX REST API client used for reference data and balance
// polling; order submission lives in OrderClient.
type Client struct {
	rest RESTCaller
	rl   *RateLimiter
	auth *Auth
}

// NewClient constructs a Client over a shared HTTPS transport.
func NewClient(https *transport.HTTPS, rl *RateLimiter, auth *Auth) *Client {
	return &Client{rest: https, rl: rl, auth: auth}
}

type marketListResponse struct {
	Result []marketEntry `json:"result"`
}

type marketEntry struct {
	Name           string  `json:"name"`
	BaseCurrency   string  `json:"baseCurrency"`
	QuoteCurrency  string  `json:"quoteCurrency"`
	PriceIncrement float64 `json:"priceIncrement"`
	SizeIncrement  float64 `json:"sizeIncrement"`
}

// ListMarkets fetches the full tradeable-market catalog, used by the
// reference-data loader.
func (c *Client) ListMarkets(ctx context.Context) ([]marketEntry, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	body, status, err := c.rest.Get(ctx, "/api/markets", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("list markets: status %d", status)
	}
	var resp marketListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return resp.Result, nil
}

type balanceListResponse struct {
	Result []balanceEntry `json:"result"`
}

type balanceEntry struct {
	Coin string `json:"coin"`
	Free string `json:"free"`
}

// GetBalances fetches the account's per-coin free balances (§4.11).
func (c *Client) GetBalances(ctx context.Context) ([]balanceEntry, error) {
	headers := c.auth.RESTHeaders("GET", "/api/wallet/balances", "")
	body, status, err := c.rest.Get(ctx, "/api/wallet/balances", headers, nil)
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("get balances: status %d", status)
	}
	var resp balanceListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	return resp.Result, nil
}
