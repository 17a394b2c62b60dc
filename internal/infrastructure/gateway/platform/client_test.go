package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewHTTPClient(srv.URL, "test-token")
	c.pollMax = 15 * time.Second
	return c
}

func TestCreateService(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/services", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req CreateServiceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "org-1-instance", req.Name)

		json.NewEncoder(w).Encode(Service{ID: "svc-1", Name: req.Name, Status: StatusDeploying})
	})

	svc, err := c.CreateService(context.Background(), CreateServiceRequest{Name: "org-1-instance", Tier: "starter"})
	require.NoError(t, err)
	assert.Equal(t, "svc-1", svc.ID)
	assert.Equal(t, StatusDeploying, svc.Status)
}

func TestWaitForRunningPollsUntilReady(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := StatusDeploying
		if n >= 3 {
			status = StatusRunning
		}
		json.NewEncoder(w).Encode(Service{ID: "svc-1", Status: status, URL: "https://svc-1.example"})
	})

	svc, err := c.WaitForRunning(context.Background(), "svc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, svc.Status)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestWaitForRunningAbortsOnFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Service{ID: "svc-1", Status: StatusFailed})
	})

	_, err := c.WaitForRunning(context.Background(), "svc-1")
	assert.ErrorIs(t, err, errServiceFailed)
}

func TestAPIErrorSurfacesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusForbidden)
	})

	_, err := c.CreateService(context.Background(), CreateServiceRequest{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Contains(t, err.Error(), "403")
}
