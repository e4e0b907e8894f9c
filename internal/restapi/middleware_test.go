package restapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustimes.app/internal/clock"
)

func TestCacheControlHeaders(t *testing.T) {
	env := createTestApi(t, testOptions{})

	tests := []struct {
		name           string
		endpoint       string
		expectedHeader string
	}{
		{
			name:           "Stop search",
			endpoint:       "/api/stops?q=queensgate",
			expectedHeader: "public, max-age=300",
		},
		{
			name:           "Stop lookup",
			endpoint:       "/api/stops/0590AAA",
			expectedHeader: "public, max-age=300",
		},
		{
			name:           "Live vehicles",
			endpoint:       "/api/live-buses",
			expectedHeader: "no-cache, no-store, must-revalidate",
		},
		{
			name:           "Departure board",
			endpoint:       "/api/departures?stopId=0590AAA",
			expectedHeader: "no-cache, no-store, must-revalidate",
		},
		{
			name:           "Error Response (No Cache on 404)",
			endpoint:       "/api/stops/nonexistent_stop_id_123",
			expectedHeader: "no-cache, no-store, must-revalidate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.get(t, tt.endpoint, nil)
			assert.Equal(t, tt.expectedHeader, resp.Header.Get("Cache-Control"), "Cache-Control header mismatch for %s", tt.endpoint)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimitMiddleware(2, time.Minute, func(key string) bool { return key == "ops" }, clock.NewMockClock(testNow))
	defer rl.Stop()

	handler := rl.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(target, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("/api/stops", "10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, do("/api/stops", "10.0.0.1:2000").Code, "same IP, different port")

	limited := do("/api/stops", "10.0.0.1:3000")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", limited.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(limited.Body).Decode(&body))
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.Equal(t, testNow.UnixMilli(), body.CurrentTime)

	assert.Equal(t, http.StatusOK, do("/api/stops", "10.0.0.2:1000").Code, "other clients unaffected")
	assert.Equal(t, http.StatusOK, do("/api/stops?key=board-7", "10.0.0.1:4000").Code, "keyed clients have their own bucket")

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do("/api/stops?key=ops", "10.0.0.1:5000").Code, "exempt key")
	}
}

func TestRateLimitMiddleware_ZeroDisablesLimiting(t *testing.T) {
	rl := NewRateLimitMiddleware(0, time.Second, nil, clock.NewMockClock(testNow))
	defer rl.Stop()

	handler := rl.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitMiddleware_CleanupEvictsIdleClients(t *testing.T) {
	clk := clock.NewMockClock(testNow)
	rl := NewRateLimitMiddleware(5, time.Second, nil, clk)
	defer rl.Stop()

	rl.getLimiter("idle")
	clk.Advance(6 * time.Minute)
	rl.getLimiter("active")
	clk.Advance(5 * time.Minute)
	rl.cleanupOnce()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.NotContains(t, rl.limiters, "idle")
	assert.Contains(t, rl.limiters, "active")
}

func TestRateLimitMiddleware_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimitMiddleware(5, time.Second, nil, clock.NewMockClock(testNow))
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestRoutesAreRateLimited(t *testing.T) {
	env := createTestApi(t, testOptions{rateLimit: 1, apiKeys: []string{"ops"}})

	assert.Equal(t, http.StatusOK, env.get(t, "/api/stops/0590AAA", nil).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, env.get(t, "/api/stops/0590AAA", nil).StatusCode)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/stops/0590AAA?key=ops", nil).StatusCode)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/health", nil).StatusCode, "health is never limited")
}

func TestCORSHeaders(t *testing.T) {
	env := createTestApi(t, testOptions{})

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/stops/0590AAA", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	preflight, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/live-buses", nil)
	require.NoError(t, err)
	preflight.Header.Set("Origin", "http://localhost:5173")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err = http.DefaultClient.Do(preflight)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodGet)
}

func TestGzipCompression(t *testing.T) {
	env := createTestApi(t, testOptions{})

	payload := strings.Repeat(`{"atcoCode":"0590AAA"}`, 200)
	handler := env.api.WithMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stops/list", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))

	plain := httptest.NewRecorder()
	handler.ServeHTTP(plain, httptest.NewRequest(http.MethodGet, "/api/stops/list", nil))
	assert.Empty(t, plain.Header().Get("Content-Encoding"))
	assert.Equal(t, payload, plain.Body.String())
}

func TestRequestIDHeaderOnAPIResponses(t *testing.T) {
	env := createTestApi(t, testOptions{})

	resp := env.get(t, "/api/stops/0590AAA", nil)
	assert.Regexp(t, `^[0-9a-f-]{36}$`, resp.Header.Get("X-Request-ID"))
}

func TestCacheControlMiddleware_HandlerHeaderWins(t *testing.T) {
	handler := CacheControlMiddleware(cacheStatic, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, max-age=5")
		_, _ = w.Write([]byte("{}"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stops", nil))
	assert.Equal(t, "private, max-age=5", rec.Header().Get("Cache-Control"))
}

func TestCacheHeader(t *testing.T) {
	assert.Equal(t, noStore, cacheHeader(0))
	assert.Equal(t, noStore, cacheHeader(-1))
	assert.Equal(t, "public, max-age=300", cacheHeader(300))
}
