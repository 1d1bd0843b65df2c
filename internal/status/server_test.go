package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/crypto-bench/internal/results"
	"github.com/vnmchuo/crypto-bench/pkg/ratelimit"
	"github.com/vnmchuo/crypto-bench/pkg/ratelimit/ratelimittest"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestHealthz(t *testing.T) {
	s := NewServer(Run{}, results.NewSummary(), nil, nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","service":"crypto-bench"}`, rr.Body.String())
}

func TestProgress(t *testing.T) {
	clock := ratelimittest.NewClock(start)
	limiter := ratelimit.NewLimiter(ratelimit.Config{}, clock)
	key := ratelimit.Key{Provider: "gemini", Model: "gemini-2.5-flash-lite"}
	require.NoError(t, limiter.Acquire(context.Background(), key))
	limiter.NotifyCooldown(key, 20*time.Second)

	summary := results.NewSummary()
	summary.Add(&results.Record{Status: "success", Correct: 1})
	summary.Add(&results.Record{Status: "terminal", Reason: "auth_or_quota"})

	run := Run{ID: "run-1", Dataset: "cybermetric", Model: key.Model, Provider: key.Provider, Items: 10, StartedAt: start.Add(-90 * time.Second)}
	s := NewServer(run, summary, limiter, func(string) string { return "closed" })
	s.now = clock.Now

	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got progressResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 10, got.Items)
	assert.Equal(t, 2, got.Done)
	assert.Equal(t, 1, got.Totals.Failed)
	assert.InDelta(t, 0.5, got.Totals.Accuracy, 1e-9)
	assert.Equal(t, "1m30s", got.Elapsed)
	assert.Equal(t, "closed", got.Breaker)
	assert.Equal(t, 1, got.RateLimit.InWindow)
	require.NotNil(t, got.RateLimit.BlockedUntil)
	assert.True(t, got.RateLimit.BlockedUntil.Equal(start.Add(20*time.Second)))
}

func TestProgress_NoLimiterActivity(t *testing.T) {
	clock := ratelimittest.NewClock(start)
	s := NewServer(Run{Provider: "echo", Model: "echo"}, results.NewSummary(), ratelimit.NewLimiter(ratelimit.Config{}, clock), nil)

	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))

	var got map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, map[string]any{"in_window": float64(0)}, got["rate_limit"])
	assert.NotContains(t, got, "breaker")
}

func TestUnknownRoute(t *testing.T) {
	s := NewServer(Run{}, results.NewSummary(), nil, nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/progress", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestListenAndServe_StopsWithContext(t *testing.T) {
	s := NewServer(Run{}, results.NewSummary(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
