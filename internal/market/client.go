package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lendguard/hedgebot/internal/domain"
)

// Client is the REST client for the hedge execution venue. It places market
// orders and reads spot prices.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ domain.Market = (*Client)(nil)

// NewClient creates a venue REST client.
//
// baseURL is the venue API root, e.g. "https://api.venue.example".
// apiKey may be empty for unauthenticated (read-only) use.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ExecuteOrder submits a market order and returns the fill result.
func (c *Client) ExecuteOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Symbol == "" {
		return domain.OrderResult{}, fmt.Errorf("market: execute order: %w: symbol required", domain.ErrValidation)
	}
	if req.Amount <= 0 {
		return domain.OrderResult{}, fmt.Errorf("market: execute order: %w: amount must be positive", domain.ErrValidation)
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeMarket
	}

	body := map[string]any{
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"amount": req.Amount,
		"type":   string(req.Type),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("market: execute order: %w", err)
	}

	var apiResult apiOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("market: decode order result: %w", err)
	}

	result := apiResult.toDomain()
	if result.Status == domain.OrderStatusRejected {
		return result, fmt.Errorf("market: order rejected: %s", apiResult.Reason)
	}

	return result, nil
}

// GetPrice returns the current spot price for a trading pair.
func (c *Client) GetPrice(ctx context.Context, pair string) (float64, error) {
	path := "/v1/ticker?pair=" + url.QueryEscape(pair)
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("market: get price for %s: %w", pair, err)
	}

	var ticker struct {
		Pair  string  `json:"pair"`
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(respBody, &ticker); err != nil {
		return 0, fmt.Errorf("market: decode ticker: %w", err)
	}
	if ticker.Price <= 0 {
		return 0, fmt.Errorf("market: venue returned non-positive price %f for %s", ticker.Price, pair)
	}

	return ticker.Price, nil
}

// doRequest builds, sends, and reads an HTTP request against the venue API.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("venue HTTP %d: %w: %s", resp.StatusCode, domain.ErrTransient, string(respBody))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, fmt.Errorf("venue HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// apiOrderResult is the venue's JSON shape for an order response.
type apiOrderResult struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	FilledAmount float64 `json:"filled_amount"`
	AvgPrice     float64 `json:"avg_price"`
	Timestamp    int64   `json:"timestamp"`
	Reason       string  `json:"reason,omitempty"`
}

func (r *apiOrderResult) toDomain() domain.OrderResult {
	return domain.OrderResult{
		OrderID:      r.OrderID,
		Status:       domain.OrderStatus(r.Status),
		FilledAmount: r.FilledAmount,
		AvgPrice:     r.AvgPrice,
		Timestamp:    time.Unix(r.Timestamp, 0).UTC(),
	}
}
