package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := New(cfg)
	t.Cleanup(client.Close)
	return client
}

func TestNewAppliesDefaults(t *testing.T) {
	client := New(&Config{})
	assert.Equal(t, DefaultTimeout, client.defaultTimeout)
	assert.Equal(t, defaultUserAgent, client.userAgent)

	client = New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "probe/1.0"})
	assert.Equal(t, 5*time.Second, client.defaultTimeout)
	assert.Equal(t, "probe/1.0", client.userAgent)

	assert.NotNil(t, New(nil))
}

func TestHeadSendsUserAgent(t *testing.T) {
	var method, ua string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		method, ua = r.Method, r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	})
	client := newTestClient(t, nil)

	resp, err := client.Head(t.Context(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, defaultUserAgent, ua)
}

func TestDefaultTimeoutApplies(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client := newTestClient(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	start := time.Now()
	resp, err := client.Get(context.Background(), server.URL)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestContextCancellation(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	client := newTestClient(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	resp, err := client.Get(ctx, server.URL)
	if resp != nil {
		resp.Body.Close()
	}
	require.ErrorIs(t, err, context.Canceled)
}

func TestHooksObserveRequests(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(t, nil)

	var before, after atomic.Int32
	var status atomic.Int32
	client.SetBeforeRequestHook(func(*http.Request) { before.Add(1) })
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error, d time.Duration) {
		after.Add(1)
		if err == nil {
			status.Store(int32(resp.StatusCode))
		}
		assert.GreaterOrEqual(t, d, time.Duration(0))
	})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, int32(http.StatusOK), status.Load())
}

func TestDoRejectsNilRequest(t *testing.T) {
	client := newTestClient(t, nil)
	_, err := client.Do(t.Context(), nil)
	require.Error(t, err)
}
