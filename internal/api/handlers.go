package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"ratelimiter/internal/models"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/stats"
	"ratelimiter/internal/version"
)

// Handlers contains HTTP handlers for the ratelimiter API
type Handlers struct {
	limiter   ratelimit.Limiter
	stats     stats.Reader
	version   version.Info
	startTime time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithStats serves the decision counters of reader on the admin stats route.
func WithStats(reader stats.Reader) HandlerOption {
	return func(h *Handlers) {
		h.stats = reader
	}
}

// NewHandlers creates a new handlers instance. A nil limiter means rate
// limiting is disabled; the admin endpoints then answer 503.
func NewHandlers(limiter ratelimit.Limiter, ver version.Info, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		limiter:   limiter,
		version:   ver,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()

	response.AddComponent("api", models.StatusHealthy, "API is operational")

	if h.limiter == nil {
		response.AddComponent("limiter", models.StatusUnknown, "Rate limiting is disabled")
	} else {
		details := response.AddComponent("limiter", models.StatusHealthy, "Limiter is operational")
		details["max_requests"] = h.limiter.MaxRequests()
		details["window_seconds"] = h.limiter.Window().Seconds()
		details["tracked_users"] = h.limiter.Users()
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// Ping is the sample rate limited resource
// GET /api/v1/ping
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, &models.PingResponse{
		Message:   "pong",
		Timestamp: time.Now(),
	})
}

// GetUserStatus reports a user's window without consuming a request
// GET /api/v1/admin/limits/{user_id}
func (h *Handlers) GetUserStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromPath(w, r)
	if !ok {
		return
	}

	status, err := h.limiter.Status(userID)
	if err != nil {
		h.writeLimiterError(w, "status", userID, err)
		return
	}

	resp := &models.LimitStatusResponse{
		UserID:            userID,
		CurrentRequests:   status.CurrentRequests,
		MaxRequests:       status.MaxRequests,
		RemainingRequests: status.RemainingRequests,
		WindowSeconds:     status.Window.Seconds(),
		TimeUntilReset:    status.TimeUntilReset.Seconds(),
		Message:           status.Message(),
	}
	if !status.ResetAt.IsZero() {
		resetAt := status.ResetAt
		resp.ResetAt = &resetAt
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// ResetUser forgets one user's requests
// DELETE /api/v1/admin/limits/{user_id}
func (h *Handlers) ResetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.limiter.ResetUser(userID); err != nil {
		h.writeLimiterError(w, "reset", userID, err)
		return
	}

	slog.Info("Rate limit reset", "user_id", userID, "remote_addr", r.RemoteAddr)
	h.writeJSONResponse(w, http.StatusOK, models.NewResetResponse(userID, "Rate limit reset"))
}

// ResetAll forgets every user's requests
// DELETE /api/v1/admin/limits
func (h *Handlers) ResetAll(w http.ResponseWriter, r *http.Request) {
	if !h.requireLimiter(w) {
		return
	}

	h.limiter.ResetAll()

	slog.Info("All rate limits reset", "remote_addr", r.RemoteAddr)
	h.writeJSONResponse(w, http.StatusOK, models.NewResetResponse("", "All rate limits reset"))
}

// GetStats reports the decision counters
// GET /api/v1/admin/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
			"Statistics are disabled")
		return
	}

	snap, err := h.stats.Snapshot(r.Context())
	if err != nil {
		slog.Error("Failed to read stats", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	resp := &models.StatsResponse{
		Total:   toStatsCounters(snap.Total),
		Routes:  make(map[string]models.StatsCounters, len(snap.ByRoute)),
		Dropped: snap.Dropped,
	}
	for route, c := range snap.ByRoute {
		resp.Routes[route] = toStatsCounters(c)
	}
	if len(snap.ByKey) > 0 {
		resp.Keys = make(map[string]models.StatsCounters, len(snap.ByKey))
		for key, c := range snap.ByKey {
			resp.Keys[key] = toStatsCounters(c)
		}
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

func toStatsCounters(c stats.Counters) models.StatsCounters {
	return models.StatsCounters{Allowed: c.Allowed, Denied: c.Denied}
}

func (h *Handlers) userIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !h.requireLimiter(w) {
		return "", false
	}

	userID := strings.TrimSpace(mux.Vars(r)["user_id"])
	if userID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "user_id is required")
		return "", false
	}
	return userID, true
}

func (h *Handlers) requireLimiter(w http.ResponseWriter) bool {
	if h.limiter != nil {
		return true
	}
	h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
		"Rate limiting is disabled")
	return false
}

func (h *Handlers) writeLimiterError(w http.ResponseWriter, op, userID string, err error) {
	if ratelimit.IsInvalidArgument(err) {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}
	slog.Error("Limiter operation failed", "operation", op, "user_id", userID, "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
