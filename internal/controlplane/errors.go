package controlplane

import (
	"fmt"
	"time"
)

// ThrottleError is returned when the control plane responds 429 with a
// Retry-After hint, so a retry layer's DelayType can honor the server's
// requested backoff instead of a default exponential schedule.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// UnauthenticatedError is returned when the control plane rejects the
// current access token outright (401), distinct from a transient
// transport/5xx failure. Heartbeat routes this to the connection FSM's
// unauthenticated state; SessionKeeper's refresh retries it like any other
// error.
type UnauthenticatedError struct{}

func (e *UnauthenticatedError) Error() string { return "control plane rejected access token" }
