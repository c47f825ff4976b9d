package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"ratelimiter/internal/api"
	"ratelimiter/internal/config"
	"ratelimiter/internal/models"
	"ratelimiter/internal/observability"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/stats"
	"ratelimiter/internal/version"
)

// Integration tests that run the full stack: configuration, instrumented
// limiter, stats recorder and router behind a real HTTP server.

type stack struct {
	server   *httptest.Server
	recorder *stats.MemoryRecorder
	cfg      *models.Config
}

func newStack(t *testing.T, yaml string) *stack {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(yaml), 0644))

	cfg, err := config.Load(configFile)
	require.NoError(t, err)

	base, err := ratelimit.NewSlidingWindowLimiter[string](cfg.Limiter.MaxRequests, cfg.Limiter.Window,
		ratelimit.WithShards(cfg.Limiter.Shards))
	require.NoError(t, err)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	limiter, err := observability.NewInstrumentedLimiter(base, observability.WithMeterProvider(mp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	rec, err := stats.NewRecorder(context.Background(), cfg.Stats)
	require.NoError(t, err)
	memory, ok := rec.(*stats.MemoryRecorder)
	require.True(t, ok)

	mw := ratelimit.Middleware(limiter,
		ratelimit.WithKeyFunc(ratelimit.KeyFromHeader(cfg.Limiter.KeyHeader, cfg.Limiter.TrustForwardedFor)),
		ratelimit.WithRecorder(rec),
	)
	handlers := api.NewHandlers(limiter, version.GetInfo(), api.WithStats(memory))
	router := api.SetupRoutes(handlers, cfg, api.WithRateLimiter(mw))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &stack{server: server, recorder: memory, cfg: cfg}
}

func (s *stack) request(t *testing.T, method, path string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const baseConfig = `
server:
  admin_token: "integration-token"
limiter:
  max_requests: 3
  window: 60s
  shards: 4
  key_header: "X-User-ID"
stats:
  enabled: true
  backend: memory
  track_keys: true
`

func TestIntegration_RateLimitFlow(t *testing.T) {
	s := newStack(t, baseConfig)
	alice := map[string]string{"X-User-ID": "alice"}

	// Step 1: the first three requests are admitted
	for i := range 3 {
		resp := s.request(t, http.MethodGet, "/api/v1/ping", alice)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
		assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
		assert.Equal(t, fmt.Sprint(2-i), resp.Header.Get("X-RateLimit-Remaining"))
	}

	// Step 2: the fourth is rejected with a structured body
	resp := s.request(t, http.MethodGet, "/api/v1/ping", alice)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, errResp.Code)
	assert.Contains(t, errResp.Message, "Rate limit exceeded. Try again in")

	// Step 3: another user is unaffected
	resp = s.request(t, http.MethodGet, "/api/v1/ping", map[string]string{"X-User-ID": "bob"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Step 4: status reflects only admitted requests
	auth := map[string]string{"Authorization": "Bearer integration-token"}
	resp = s.request(t, http.MethodGet, "/api/v1/admin/limits/alice", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status models.LimitStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 3, status.CurrentRequests)
	assert.Equal(t, 0, status.RemainingRequests)

	// Step 5: an admin reset restores access
	resp = s.request(t, http.MethodDelete, "/api/v1/admin/limits/alice", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.request(t, http.MethodGet, "/api/v1/ping", alice)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Step 6: every decision was counted
	assert.Equal(t, stats.Counters{Allowed: 5, Denied: 1}, s.recorder.Total())
	assert.Equal(t, stats.Counters{Allowed: 4, Denied: 1}, s.recorder.ByKey()["alice"])

	// Step 7: the same counters are served to admins
	resp = s.request(t, http.MethodGet, "/api/v1/admin/stats", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var counters models.StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counters))
	assert.Equal(t, models.StatsCounters{Allowed: 5, Denied: 1}, counters.Total)
	assert.Equal(t, models.StatsCounters{Allowed: 4, Denied: 1}, counters.Keys["alice"])
	assert.Equal(t, models.StatsCounters{Allowed: 5, Denied: 1}, counters.Routes["GET /api/v1/ping"])

	resp = s.request(t, http.MethodGet, "/api/v1/admin/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_AdminRequiresToken(t *testing.T) {
	s := newStack(t, baseConfig)

	resp := s.request(t, http.MethodDelete, "/api/v1/admin/limits", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.request(t, http.MethodDelete, "/api/v1/admin/limits",
		map[string]string{"Authorization": "Bearer integration-token"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_IPFallback(t *testing.T) {
	s := newStack(t, baseConfig)

	for range 3 {
		resp := s.request(t, http.MethodGet, "/api/v1/ping", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := s.request(t, http.MethodGet, "/api/v1/ping", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	_, ok := s.recorder.ByKey()["ip:127.0.0.1"]
	assert.True(t, ok, "requests without a user header are keyed by client IP")
}

func TestIntegration_HealthReportsLimiter(t *testing.T) {
	s := newStack(t, baseConfig)

	s.request(t, http.MethodGet, "/api/v1/ping", map[string]string{"X-User-ID": "alice"})
	s.request(t, http.MethodGet, "/api/v1/ping", map[string]string{"X-User-ID": "bob"})

	resp := s.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	details := health.Components["limiter"].Details
	assert.Equal(t, float64(3), details["max_requests"])
	assert.Equal(t, float64(2), details["tracked_users"])
}

func TestIntegration_ConcurrentClientsNeverExceedLimit(t *testing.T) {
	s := newStack(t, baseConfig)

	const clients = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/v1/ping", nil)
			if err != nil {
				return
			}
			req.Header.Set("X-User-ID", "shared")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, s.cfg.Limiter.MaxRequests, admitted)
	assert.Equal(t, stats.Counters{Allowed: 3, Denied: clients - 3}, s.recorder.Total())
}
