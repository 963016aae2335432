package sepa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client uploads direct-debit orders to the bank endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client. An empty baseURL means no bank
// connection is configured; UploadOrder then fails fast.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether a bank connection is set up.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

type uploadResponse struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
}

// UploadOrder submits a pain.008 payload and returns the bank's transaction
// and order identifiers.
func (c *Client) UploadOrder(ctx context.Context, payload []byte) (string, string, error) {
	if !c.Configured() {
		return "", "", fmt.Errorf("sepa: no bank connection configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/orders", c.baseURL), bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("sepa: upload failed with status %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("sepa: decode upload response: %w", err)
	}
	return out.TransactionID, out.OrderID, nil
}
