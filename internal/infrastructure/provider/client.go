package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/strataline/callflow-backend/internal/domain/errors"
	"github.com/strataline/callflow-backend/internal/infrastructure/config"
)

// Client talks to the voice provider's REST API for outbound call control.
// The provider is otherwise only heard from through webhooks.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	fromNumber string
	httpClient *http.Client
}

// NewClient creates a provider client from configuration.
func NewClient(cfg *config.ProviderConfig) *Client {
	return &Client{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		fromNumber: cfg.FromNumber,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string {
	return c.name
}

// FromNumber returns the configured caller id for outbound dials.
func (c *Client) FromNumber() string {
	return c.fromNumber
}

type dialRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type dialResponse struct {
	ID string `json:"id"`
}

// Dial asks the provider to place an outbound call and returns the
// provider-assigned correlation id.
func (c *Client) Dial(ctx context.Context, from, to string) (string, error) {
	body, err := json.Marshal(dialRequest{From: from, To: to})
	if err != nil {
		return "", fmt.Errorf("marshaling dial request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/calls", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.NewExternalError(c.name,
			fmt.Sprintf("dial returned status %d", resp.StatusCode))
	}

	var dr dialResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", errors.NewExternalError(c.name, "dial response was not valid JSON").WithCause(err)
	}
	if dr.ID == "" {
		return "", errors.NewExternalError(c.name, "dial response carried no call id")
	}

	return dr.ID, nil
}

// Terminate asks the provider to end an active call. Best-effort; the
// authoritative status change still arrives via webhook.
func (c *Client) Terminate(ctx context.Context, correlationID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/calls/"+correlationID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Already gone on the provider side; the webhook will confirm.
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewExternalError(c.name,
			fmt.Sprintf("terminate returned status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building provider request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewExternalError(c.name, "request failed").WithCause(err)
	}
	return resp, nil
}
