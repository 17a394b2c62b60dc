// Package platform talks to the cloud platform that hosts per-tenant
// workflow-automation instances.
package platform

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

// Service statuses reported by the platform.
const (
	StatusDeploying = "deploying"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusFailed    = "failed"
)

// CreateServiceRequest describes the instance to create
type CreateServiceRequest struct {
	Name string `json:"name"`
	Tier string `json:"tier"`
	Env  map[string]string `json:"env,omitempty"`
}

// Service is the platform's view of an instance
type Service struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

// Client interface
type Client interface {
	CreateService(ctx context.Context, req CreateServiceRequest) (*Service, error)
	GetService(ctx context.Context, serviceID string) (*Service, error)
	PauseService(ctx context.Context, serviceID string) error
	ResumeService(ctx context.Context, serviceID string) error
	DeleteService(ctx context.Context, serviceID string) error
	// WaitForRunning polls the service until it reports running, fails, or
	// the backoff gives up.
	WaitForRunning(ctx context.Context, serviceID string) (*Service, error)
}

// HTTPClient is the production implementation
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client

	// pollMax bounds the readiness poll; overridable in tests
	pollMax time.Duration
}

// NewHTTPClient creates a platform client
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollMax: 5 * time.Minute,
	}
}

// CreateService creates a new instance on the platform
func (c *HTTPClient) CreateService(ctx context.Context, req CreateServiceRequest) (*Service, error) {
	var svc Service
	if err := c.do(ctx, "POST", "/v1/services", req, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// GetService fetches the current service state
func (c *HTTPClient) GetService(ctx context.Context, serviceID string) (*Service, error) {
	var svc Service
	if err := c.do(ctx, "GET", "/v1/services/"+serviceID, nil, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// PauseService pauses a running service
func (c *HTTPClient) PauseService(ctx context.Context, serviceID string) error {
	return c.do(ctx, "POST", "/v1/services/"+serviceID+"/pause", nil, nil)
}

// ResumeService resumes a paused service
func (c *HTTPClient) ResumeService(ctx context.Context, serviceID string) error {
	return c.do(ctx, "POST", "/v1/services/"+serviceID+"/resume", nil, nil)
}

// DeleteService deletes a service
func (c *HTTPClient) DeleteService(ctx context.Context, serviceID string) error {
	return c.do(ctx, "DELETE", "/v1/services/"+serviceID, nil, nil)
}

// errServiceFailed aborts the readiness poll immediately.
var errServiceFailed = fmt.Errorf("service entered failed state")

// WaitForRunning polls GetService with exponential backoff until the
// service reports running. A failed status aborts immediately.
func (c *HTTPClient) WaitForRunning(ctx context.Context, serviceID string) (*Service, error) {
	var last *Service

	operation := func() error {
		svc, err := c.GetService(ctx, serviceID)
		if err != nil {
			return err
		}
		last = svc

		switch svc.Status {
		case StatusRunning:
			return nil
		case StatusFailed:
			return backoff.Permanent(errServiceFailed)
		default:
			return fmt.Errorf("service %s not ready (status: %s)", serviceID, svc.Status)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = c.pollMax

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return last, err
	}
	return last, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("platform API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
