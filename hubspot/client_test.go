// ABOUTME: Tests for the CRM client's auth, decoding, and retry budget handling
// ABOUTME: Uses an httptest server standing in for the HubSpot API
package hubspot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "pat-test", WithBackoff(0))
}

func TestClientSendsBearerToken(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":"7","properties":{"name":"Acme","domain":null}}`))
	})

	company, err := c.GetCompany(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Bearer pat-test", auth)
	assert.Equal(t, "Acme", company.Properties.Get("name"))
	assert.Equal(t, "", company.Properties.Get("domain"))
}

func TestClientRetriesOncePerCall(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	budget := NewRetryBudget(3)
	ctx := WithRetryBudget(context.Background(), budget)

	_, err := c.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, budget.Remaining())
}

func TestClientGivesUpAfterPerCallRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := c.ListPipelines(WithRetryBudget(context.Background(), NewRetryBudget(3)))
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Body)
	assert.Contains(t, err.Error(), "Error fetching data: 500 - upstream down")
}

func TestClientSharesBudgetAcrossCalls(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// every call fails first, then succeeds
		if calls.Add(1)%2 == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	ctx := WithRetryBudget(context.Background(), NewRetryBudget(3))
	for i := 0; i < 3; i++ {
		_, err := c.ListPipelines(ctx)
		require.NoError(t, err, "call %d", i)
	}

	// fourth failure exceeds the invocation budget and is not retried
	_, err := c.ListPipelines(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(7), calls.Load())
}

func TestClientDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})

	_, err := c.GetOwner(context.Background(), "99", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var retried []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "pat", WithRetryHook(func(status int) { retried = append(retried, status) }))
	_, err := c.ListPipelines(WithRetryBudget(context.Background(), NewRetryBudget(3)))
	require.NoError(t, err)
	assert.Equal(t, []int{http.StatusTooManyRequests}, retried)
}

func TestClientWithoutBudgetDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.ListPipelines(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientStopsOnCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetDeal(ctx, "1")
	assert.Error(t, err)
}
