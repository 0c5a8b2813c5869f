package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
)

func init() {
	logger.InitLogger("test")
}

func fastRetries() *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	return cfg
}

func TestHTTPClient_RetriesResendBody(t *testing.T) {
	var calls int32
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		assert.Equal(t, "k-1", r.Header.Get("X-API-Key"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := NewHTTPClient(WithBaseURL(srv.URL+"/"), WithRetryConfig(fastRetries()), WithDefaultHeader("X-API-Key", "k-1"))
	resp, err := c.Post(context.Background(), "names", map[string]string{"label": "alice"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, c.ProcessJSONResponse(resp, &out))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, int32(3), calls)
	for _, b := range bodies {
		assert.JSONEq(t, `{"label":"alice"}`, b)
	}
}

func TestHTTPClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"nonce already used"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(WithBaseURL(srv.URL), WithRetryConfig(fastRetries()))
	resp, err := c.Post(context.Background(), "/names", struct{}{})

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusConflict, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "nonce already used")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, int32(1), calls)
}

func TestHTTPClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(WithBaseURL(srv.URL), WithRetryConfig(fastRetries()))
	_, err := c.Get(context.Background(), "/health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retryable status code: 502")
	assert.Equal(t, int32(4), calls)
}

func TestHTTPClient_NoRetryConfig(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(WithBaseURL(srv.URL), WithRetryConfig(nil))
	resp, err := c.Get(context.Background(), "/ping", WithHeader("X-Correlation-ID", "abc"))
	require.NoError(t, err)
	require.NoError(t, c.ProcessJSONResponse(resp, nil))
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, srv.URL, c.BaseURL())
}
