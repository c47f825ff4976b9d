package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. The typed errors below unwrap to one of these so callers
// can branch with errors.Is.
var (
	ErrConfiguration    = errors.New("invalid rate limiter configuration")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNonMonotonicTime = errors.New("non-monotonic time")
)

// ConfigurationError is returned by the constructor when a limit parameter
// is out of range.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// InvalidArgumentError reports a user id that cannot key a window.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid user id: " + e.Message
}

func (e *InvalidArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// NonMonotonicTimeError is returned when a call supplies a time earlier than
// the last timestamp recorded for the same user.
type NonMonotonicTimeError struct {
	Last time.Time
	Now  time.Time
}

func (e *NonMonotonicTimeError) Error() string {
	return fmt.Sprintf("time went backwards by %s (last %s, now %s)",
		e.Last.Sub(e.Now), e.Last.Format(time.RFC3339Nano), e.Now.Format(time.RFC3339Nano))
}

func (e *NonMonotonicTimeError) Unwrap() error {
	return ErrNonMonotonicTime
}

func newConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// IsConfigurationError reports whether err came from invalid limiter parameters.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsInvalidArgument reports whether err was caused by an unusable user id.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsNonMonotonicTime reports whether err was caused by time moving backwards.
func IsNonMonotonicTime(err error) bool {
	return errors.Is(err, ErrNonMonotonicTime)
}
