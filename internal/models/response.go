// Package models - API response types and error handling.
// This file defines the outgoing API response structures.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Machine-readable error codes next to human-readable messages
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// ErrorResponse provides structured error information with debugging context.
//
// Error Categories:
// - Rate limit errors: the caller exhausted its window (429)
// - Authorization errors: missing or wrong admin token (401)
// - Validation errors: malformed path parameters (400)
// - Internal errors: limiter failures such as time moving backwards (500)
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ResetResponse acknowledges an administrative reset. UserID is empty when
// every user was reset.
type ResetResponse struct {
	UserID    string    `json:"user_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LimitStatusResponse reports a user's window without consuming a request.
type LimitStatusResponse struct {
	UserID            string     `json:"user_id"`
	CurrentRequests   int        `json:"current_requests"`
	MaxRequests       int        `json:"max_requests"`
	RemainingRequests int        `json:"remaining_requests"`
	WindowSeconds     float64    `json:"window_seconds"`
	TimeUntilReset    float64    `json:"time_until_reset"`
	ResetAt           *time.Time `json:"reset_at,omitempty"`
	Message           string     `json:"message"`
}

// StatsResponse reports the decision counters collected so far.
type StatsResponse struct {
	Total   StatsCounters            `json:"total"`
	Routes  map[string]StatsCounters `json:"routes"`
	Keys    map[string]StatsCounters `json:"keys,omitempty"`
	Dropped int64                    `json:"dropped"` // Events lost to a full queue
}

type StatsCounters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

type PingResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Window exhausted
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewResetResponse(userID, message string) *ResetResponse {
	return &ResetResponse{
		UserID:    userID,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

// AddComponent registers a component and returns its details map so callers
// can attach component specific values.
func (h *HealthCheckResponse) AddComponent(name, status, message string) map[string]interface{} {
	details := make(map[string]interface{})
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
	}
	return details
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
