package models

import (
	"fmt"
	"time"
)

// AuthError indicates the credential exchange with the upstream authority
// failed. Fatal for the affected scan; never retried by the orchestrator.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitExceeded surfaces when the upstream rejected a call for quota
// exhaustion and the executor's bounded wait was not enough.
type RateLimitExceeded struct {
	ResetAt time.Time
	Err     error
}

func (e *RateLimitExceeded) Error() string {
	if e.ResetAt.IsZero() {
		return "upstream rate limit exceeded"
	}
	return fmt.Sprintf("upstream rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitExceeded) Unwrap() error { return e.Err }

// RetryAfter returns the remaining wait until the upstream quota resets,
// floored at zero.
func (e *RateLimitExceeded) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TransientNetworkError indicates a server-side or network failure that
// persisted through the executor's retry budget.
type TransientNetworkError struct {
	Attempts int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient upstream failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// NotFoundError indicates the requested resource does not exist upstream.
// Permanent; surfaced immediately without retry.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Resource)
}

// ValidationError indicates a malformed request or configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// ConfigError indicates an invalid rule set or registry definition. Any
// scan depending on the offending configuration is prevented from starting.
type ConfigError struct {
	Source string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// PersistenceError indicates the result store rejected a write or query.
// A scan whose evaluation succeeded but whose persist failed is reported
// as failed so results are never silently lost.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("result store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
