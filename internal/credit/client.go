// Package credit provides the REST client for the platform's credit score
// provider.
package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lendguard/hedgebot/internal/domain"
)

// Client fetches borrower credit scores over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ domain.CreditScoreSource = (*Client)(nil)

// NewClient creates a score provider client. apiKey may be empty when the
// provider does not require authentication.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchScore returns the current credit score for a borrower.
func (c *Client) FetchScore(ctx context.Context, borrowerID string) (int64, error) {
	if borrowerID == "" {
		return 0, fmt.Errorf("credit: fetch score: %w: borrower ID required", domain.ErrValidation)
	}

	path := "/v1/scores/" + url.PathEscape(borrowerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("credit: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("credit: fetch score for %s: %w: %v", borrowerID, domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("credit: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("credit: borrower %s: %w", borrowerID, domain.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return 0, fmt.Errorf("credit: provider HTTP %d: %w: %s", resp.StatusCode, domain.ErrTransient, string(body))
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("credit: provider HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		BorrowerID string `json:"borrower_id"`
		Score      int64  `json:"score"`
		UpdatedAt  int64  `json:"updated_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("credit: decode score: %w", err)
	}
	if payload.Score < 0 {
		return 0, fmt.Errorf("credit: provider returned negative score %d for %s", payload.Score, borrowerID)
	}

	return payload.Score, nil
}
