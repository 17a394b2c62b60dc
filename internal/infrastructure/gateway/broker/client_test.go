package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "broker-key")
}

func TestCreateConnectSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/connect/sessions", r.URL.Path)
		assert.Equal(t, "Bearer broker-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1", body["end_user_id"])
		assert.Equal(t, "slack", body["allowed_provider"])

		json.NewEncoder(w).Encode(ConnectSession{Token: "sess-token"})
	})

	session, err := c.CreateConnectSession(context.Background(), "user-1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "sess-token", session.Token)
}

func TestGetCredentialsRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "temporarily unavailable", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Credentials{
			ConnectionID: "conn-1",
			Provider:     "slack",
			Payload:      json.RawMessage(`{"access_token":"xoxb"}`),
		})
	})

	creds, err := c.GetCredentials(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "slack", creds.Provider)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "no such connection", http.StatusNotFound)
	})

	_, err := c.GetCredentials(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
