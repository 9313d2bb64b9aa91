package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend accepts only "fresh" and hands it out on refresh.
type backend struct {
	refreshes atomic.Int32
	requests  atomic.Int32
	reject    bool
	slow      time.Duration
}

func (b *backend) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshes.Add(1)
		time.Sleep(b.slow)
		if b.reject {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Invalid or expired token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"fresh"}`))
	})
	mux.HandleFunc("GET /api/trips", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Access token missing or malformed"}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func wire(t *testing.T, be *backend) (*harness, *api.Client) {
	t.Helper()
	srv := be.start(t)
	opts := api.Options{BaseURL: srv.URL}
	h := newHarness(t, nil, Options{})
	h.ctrl.auth = api.NewAuth(opts, "", nil)

	ctx := context.Background()
	require.NoError(t, h.ctrl.Initialize(ctx))
	require.NoError(t, h.ctrl.Login(ctx, Credentials{AccessToken: "stale", RefreshToken: "r1", User: ana}))
	return h, api.NewClient(opts, h.ctrl, nil)
}

func trips(t *testing.T) *api.Request {
	t.Helper()
	req, err := api.NewRequest(http.MethodGet, "/api/trips", nil)
	require.NoError(t, err)
	return req
}

func TestExpiredTokenRefreshesOnceAndRetries(t *testing.T) {
	be := &backend{}
	h, client := wire(t, be)

	resp, err := client.Do(context.Background(), trips(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(1), be.refreshes.Load())
	assert.Equal(t, int32(2), be.requests.Load())
	assert.Equal(t, status.Authenticated, h.ctrl.Status())
}

func TestConcurrentAuthFailuresShareOneRefresh(t *testing.T) {
	be := &backend{slow: 50 * time.Millisecond}
	_, client := wire(t, be)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = client.Do(context.Background(), trips(t))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), be.refreshes.Load())
}

func TestRefreshFailureStopsAuthenticatedCalls(t *testing.T) {
	be := &backend{reject: true}
	h, client := wire(t, be)
	resetsBefore, _ := h.host.counts()

	_, err := client.Do(context.Background(), trips(t))
	require.ErrorIs(t, err, api.ErrSessionExpired)
	assert.Equal(t, status.Anonymous, h.ctrl.Status())

	resets, notices := h.host.counts()
	assert.Equal(t, 1, resets-resetsBefore)
	assert.Equal(t, 1, notices)

	requests := be.requests.Load()
	_, err = client.Do(context.Background(), trips(t))
	require.ErrorIs(t, err, api.ErrNotAuthenticated)
	assert.Equal(t, requests, be.requests.Load())
	assert.Equal(t, int32(1), be.refreshes.Load())
}
