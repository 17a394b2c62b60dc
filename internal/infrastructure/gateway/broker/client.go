// Package broker talks to the hosted OAuth connector broker. The broker
// owns the OAuth dance with each provider; the control plane only creates
// connect sessions and fetches the resulting credentials.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ConnectSession is the broker's session handle. The frontend passes Token
// to the broker-hosted connect UI.
type ConnectSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Credentials is the raw credential payload for a connection. The control
// plane treats it as opaque JSON and mirrors it into the tenant schema.
type Credentials struct {
	ConnectionID string          `json:"connection_id"`
	Provider     string          `json:"provider"`
	Payload      json.RawMessage `json:"credentials"`
}

// Client interface
type Client interface {
	CreateConnectSession(ctx context.Context, endUserID, provider string) (*ConnectSession, error)
	GetCredentials(ctx context.Context, connectionID string) (*Credentials, error)
	DeleteConnection(ctx context.Context, connectionID string) error
}

// HTTPClient is the production implementation
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a broker client
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateConnectSession asks the broker for a short-lived connect session
func (c *HTTPClient) CreateConnectSession(ctx context.Context, endUserID, provider string) (*ConnectSession, error) {
	reqBody := map[string]interface{}{
		"end_user_id":      endUserID,
		"allowed_provider": provider,
	}

	var session ConnectSession
	err := c.doWithRetry(ctx, "POST", "/v1/connect/sessions", reqBody, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetCredentials fetches the credential payload for a connection
func (c *HTTPClient) GetCredentials(ctx context.Context, connectionID string) (*Credentials, error) {
	var creds Credentials
	err := c.doWithRetry(ctx, "GET", "/v1/connections/"+connectionID, nil, &creds)
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

// DeleteConnection removes the connection on the broker side
func (c *HTTPClient) DeleteConnection(ctx context.Context, connectionID string) error {
	return c.doWithRetry(ctx, "DELETE", "/v1/connections/"+connectionID, nil, nil)
}

// doWithRetry performs a request with exponential backoff. Client errors
// (4xx) are permanent; everything else is retried until the backoff gives up.
func (c *HTTPClient) doWithRetry(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	operation := func() error {
		return c.do(ctx, method, path, body, out)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("broker API error (status %d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode < 500 {
			return backoff.Permanent(apiErr)
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}
