package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratelimiter/internal/models"
	"ratelimiter/internal/stats"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func serve(handler http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestMiddleware_AllowedRequest(t *testing.T) {
	limiter := newTestLimiter(t, 5, time.Minute)

	handler := Middleware(limiter)(http.HandlerFunc(okHandler))
	rr := serve(handler, "192.168.1.1:12345", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rr.Header().Get("Retry-After"))
}

func TestMiddleware_DeniedRequest(t *testing.T) {
	limiter := newTestLimiter(t, 2, time.Minute)

	handler := Middleware(limiter)(http.HandlerFunc(okHandler))

	for i := 0; i < 2; i++ {
		rr := serve(handler, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	// Third request should be denied
	rr := serve(handler, "192.168.1.1:12345", nil)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 59)
	assert.LessOrEqual(t, retryAfter, 60)

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, errResp.Code)
	assert.Contains(t, errResp.Message, "Rate limit exceeded. Try again in")
}

func TestMiddleware_KeyHeader(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)

	handler := Middleware(limiter, WithKeyFunc(KeyFromHeader("X-User-ID", false)))(http.HandlerFunc(okHandler))

	rr := serve(handler, "192.168.1.1:12345", map[string]string{"X-User-ID": "alice"})
	assert.Equal(t, http.StatusOK, rr.Code)

	// Same IP, different user.
	rr = serve(handler, "192.168.1.1:12345", map[string]string{"X-User-ID": "bob"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(handler, "10.0.0.9:1", map[string]string{"X-User-ID": "alice"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	status, err := limiter.Status("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentRequests)
}

func TestMiddleware_LimiterError(t *testing.T) {
	var now time.Time
	clock := ClockFunc(func() time.Time { return now })
	limiter := newTestLimiter(t, 5, time.Minute, WithClock(clock))

	handler := Middleware(limiter)(http.HandlerFunc(okHandler))

	now = at(10)
	rr := serve(handler, "192.168.1.1:12345", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	now = at(5)
	rr = serve(handler, "192.168.1.1:12345", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeInternalError, errResp.Code)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, stats.Event) error {
	f.calls++
	return errors.New("unavailable")
}

func TestMiddleware_Recorder(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)
	rec := stats.NewMemoryRecorder(stats.WithTrackKeys(true))

	handler := Middleware(limiter, WithRecorder(rec), WithDenyLogInterval(0))(http.HandlerFunc(okHandler))

	serve(handler, "192.168.1.1:12345", nil)
	serve(handler, "192.168.1.1:12345", nil)
	serve(handler, "192.168.1.1:12345", nil)

	assert.Equal(t, stats.Counters{Allowed: 1, Denied: 2}, rec.Total())
	assert.Equal(t, stats.Counters{Allowed: 1, Denied: 2}, rec.ByRoute()["GET /test"])
	assert.Equal(t, stats.Counters{Allowed: 1, Denied: 2}, rec.ByKey()["ip:192.168.1.1"])
}

func TestMiddleware_RecorderFailureDoesNotBlock(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)
	rec := &failingRecorder{}

	handler := Middleware(limiter, WithRecorder(rec))(http.HandlerFunc(okHandler))

	assert.Equal(t, http.StatusOK, serve(handler, "192.168.1.1:12345", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "192.168.1.1:12345", nil).Code)
	assert.Equal(t, 2, rec.calls)
}

// stallingRecorder blocks until its context is done, like a Redis call
// against an unresponsive server.
type stallingRecorder struct {
	deadline time.Time
}

func (s *stallingRecorder) Record(ctx context.Context, _ stats.Event) error {
	s.deadline, _ = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func TestMiddleware_SlowRecorderIsBounded(t *testing.T) {
	limiter := newTestLimiter(t, 5, time.Minute)
	rec := &stallingRecorder{}

	handler := Middleware(limiter, WithRecorder(rec), WithRecorderTimeout(20*time.Millisecond))(http.HandlerFunc(okHandler))

	start := time.Now()
	rr := serve(handler, "192.168.1.1:12345", nil)
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, rec.deadline.IsZero(), "recorder gets a deadline")
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestMiddleware_AsyncRecorderDoesNotHoldResponse(t *testing.T) {
	limiter := newTestLimiter(t, 5, time.Minute)
	slow := &sleepingRecorder{delay: 300 * time.Millisecond}
	rec := stats.NewAsyncRecorder(slow, stats.WithRecordTimeout(time.Second))
	t.Cleanup(func() { _ = rec.Close() })

	handler := Middleware(limiter, WithRecorder(rec))(http.HandlerFunc(okHandler))

	start := time.Now()
	rr := serve(handler, "192.168.1.1:12345", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

// sleepingRecorder ignores its context.
type sleepingRecorder struct{ delay time.Duration }

func (s *sleepingRecorder) Record(context.Context, stats.Event) error {
	time.Sleep(s.delay)
	return nil
}

func TestKeyFromHeader(t *testing.T) {
	keyFn := KeyFromHeader("X-User-ID", false)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	assert.Equal(t, "ip:192.168.1.1", keyFn(req))

	req.Header.Set("X-User-ID", "  user123 ")
	assert.Equal(t, "user123", keyFn(req))

	assert.Equal(t, "ip:192.168.1.1", KeyFromHeader("", false)(req))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.168.1.1",
			want:       "192.168.1.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "forwarded for ignored without trust",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50"},
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded for first hop",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"},
			trustProxy: true,
			want:       "203.0.113.50",
		},
		{
			name:       "real ip",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Real-IP": "203.0.113.51"},
			trustProxy: true,
			want:       "203.0.113.51",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trustProxy))
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 55, retryAfterSeconds(55*time.Second))
	assert.Equal(t, 56, retryAfterSeconds(55*time.Second+time.Millisecond))
}
