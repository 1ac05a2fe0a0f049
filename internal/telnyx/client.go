// Package telnyx is the outbound SMS provider client. The client is
// constructed once at process start and injected; there is no package-level
// singleton.
package telnyx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"covertext/internal/phone"
)

// ErrCodeRecipientBlocked is the provider error code reported when the
// recipient opted out at the carrier level. The send gate reconciles it into
// a local opt-out instead of treating it as a plain failure.
const ErrCodeRecipientBlocked = "40300"

// SendError carries the provider's error code alongside the failure.
type SendError struct {
	Code   string
	Detail string
}

func (e *SendError) Error() string {
	if e.Code == "" {
		return e.Detail
	}
	return fmt.Sprintf("telnyx send failed (%s): %s", e.Code, e.Detail)
}

// IsRecipientBlocked reports whether err is a carrier-level block.
func IsRecipientBlocked(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Code == ErrCodeRecipientBlocked
}

// Client is a typed HTTP client for the Telnyx messaging API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Telnyx client. The timeout bounds every send call.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Send transmits one SMS and returns the provider's message id. From/to may
// be in any stored format; they are rendered to E.164 on the wire.
func (c *Client) Send(ctx context.Context, from, to, text string) (string, error) {
	body, err := json.Marshal(sendRequest{
		From: phone.ToE164(from),
		To:   phone.ToE164(to),
		Text: text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/messages", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SendError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &SendError{Detail: fmt.Sprintf("failed to decode response (status %d): %v", resp.StatusCode, err)}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		se := &SendError{Detail: fmt.Sprintf("telnyx API returned status %d", resp.StatusCode)}
		if len(decoded.Errors) > 0 {
			se.Code = decoded.Errors[0].Code
			se.Detail = decoded.Errors[0].Detail
			if se.Detail == "" {
				se.Detail = decoded.Errors[0].Title
			}
		}
		return "", se
	}

	if decoded.Data.ID == "" {
		return "", &SendError{Detail: "provider message id missing from response"}
	}
	return decoded.Data.ID, nil
}
