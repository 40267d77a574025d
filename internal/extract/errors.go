package extract

import (
	"errors"
	"fmt"
	"time"
)

// Error classes for the extraction service. The job state machine only
// distinguishes retryable from permanent: rate limiting and upstream
// unavailability are retryable, everything else is not.
var (
	ErrRateLimited = errors.New("extraction service rate limited")
	ErrUnavailable = errors.New("extraction service unavailable")
)

// UpstreamError wraps a classified upstream failure, optionally carrying the
// server's retry hint.
type UpstreamError struct {
	Class      error // ErrRateLimited or ErrUnavailable for retryable cases
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Class != nil {
		return fmt.Sprintf("%v (status %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("extraction failed (status %d): %v", e.Status, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	if e.Class != nil {
		return e.Class
	}
	return e.Err
}

// IsRetryable reports whether the error is a transient upstream condition.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// retryAfterOf extracts a server retry hint from the error chain, zero if none.
func retryAfterOf(err error) time.Duration {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.RetryAfter
	}
	return 0
}
