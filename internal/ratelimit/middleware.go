package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ratelimiter/internal/models"
	"ratelimiter/internal/stats"
)

// KeyFunc derives the rate limit key of a request.
type KeyFunc func(r *http.Request) string

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	keyFunc       KeyFunc
	recorder      stats.Recorder
	recordTimeout time.Duration
	denyLog       *rate.Sometimes
}

// WithKeyFunc replaces the default key derivation (client IP).
func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.keyFunc = fn
		}
	}
}

// WithRecorder reports every decision to rec. Recorder errors are logged and
// otherwise ignored. Record runs on the request path under the recorder
// timeout; backends that can stall belong behind a stats.AsyncRecorder.
func WithRecorder(rec stats.Recorder) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.recorder = rec
	}
}

// WithRecorderTimeout bounds how long a request waits on the recorder.
// Non-positive values keep the default of 50ms.
func WithRecorderTimeout(d time.Duration) MiddlewareOption {
	return func(o *middlewareOptions) {
		if d > 0 {
			o.recordTimeout = d
		}
	}
}

// WithDenyLogInterval limits "Rate limit exceeded" warnings to one per d.
// A non-positive d logs every denial.
func WithDenyLogInterval(d time.Duration) MiddlewareOption {
	return func(o *middlewareOptions) {
		if d <= 0 {
			o.denyLog = &rate.Sometimes{Every: 1}
			return
		}
		o.denyLog = &rate.Sometimes{First: 1, Interval: d}
	}
}

// Middleware returns HTTP middleware that admits or rejects each request
// through limiter. Rate limit headers are set on every response; rejected
// requests get 429 with Retry-After and a JSON error body.
func Middleware(limiter Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := &middlewareOptions{
		keyFunc:       KeyFromHeader("", false),
		recordTimeout: 50 * time.Millisecond,
		denyLog:       &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := o.keyFunc(r)

			allowed, status, err := allow(r.Context(), limiter, key)
			if err != nil {
				slog.Error("Rate limiter failed", "key", key, "error", err)
				writeError(w, http.StatusInternalServerError,
					models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
				return
			}

			o.record(r, key, allowed)
			setRateLimitHeaders(w, status)

			if !allowed {
				retryAfter := retryAfterSeconds(status.TimeUntilReset)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests,
					models.NewErrorResponse(status.Message(), models.ErrorCodeRateLimitExceeded))

				o.denyLog.Do(func() {
					slog.Warn("Rate limit exceeded",
						"key", key,
						"limit", status.MaxRequests,
						"window", status.Window,
						"retry_after", retryAfter,
					)
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allow(ctx context.Context, limiter Limiter, key string) (bool, Status, error) {
	if cl, ok := limiter.(ContextLimiter); ok {
		return cl.AllowContext(ctx, key)
	}
	return limiter.Allow(key)
}

func (o *middlewareOptions) record(r *http.Request, key string, allowed bool) {
	if o.recorder == nil {
		return
	}
	ev := stats.Event{
		Key:     key,
		Allowed: allowed,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	}
	// Detached from the request so a client disconnect does not drop the
	// event; the deadline still caps the wait.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), o.recordTimeout)
	defer cancel()
	if err := o.recorder.Record(ctx, ev); err != nil {
		slog.Debug("Failed to record rate limit decision", "key", key, "error", err)
	}
}

func setRateLimitHeaders(w http.ResponseWriter, status Status) {
	reset := status.ResetAt
	if reset.IsZero() {
		reset = time.Now()
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.MaxRequests))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.RemainingRequests))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

// retryAfterSeconds rounds up and never returns less than one second.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func writeError(w http.ResponseWriter, code int, resp *models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// KeyFromHeader keys requests by the named header and falls back to the
// client IP when the header is absent or header is empty. IP keys carry an
// "ip:" prefix so they cannot collide with user ids.
func KeyFromHeader(header string, trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if header != "" {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return v
			}
		}
		return "ip:" + ClientIP(r, trustProxy)
	}
}

// ClientIP extracts the client IP. Proxy headers are consulted only when
// trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
