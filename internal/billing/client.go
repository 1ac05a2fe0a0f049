// Package billing reports metered usage to the external billing provider.
// Reporting is best-effort by contract: the message has already been sent by
// the time usage is recorded, so a billing hiccup must never bubble up into
// the send path.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a typed HTTP client for the usage-metering API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new billing client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type usageRecord struct {
	AccountID string `json:"account_id"`
	MeterID   string `json:"meter_id"`
	Quantity  int    `json:"quantity"`
	Timestamp int64  `json:"timestamp"`
}

// ReportUsage records quantity units against an account's meter.
func (c *Client) ReportUsage(ctx context.Context, accountID, meterID string, quantity int) error {
	body, err := json.Marshal(usageRecord{
		AccountID: accountID,
		MeterID:   meterID,
		Quantity:  quantity,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	url := fmt.Sprintf("%s/usage_records", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to report usage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("billing API returned status %d", resp.StatusCode)
	}
	return nil
}
