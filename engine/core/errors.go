package core

import "fmt"

// BlacklistCategory identifies why a Cache-Hit Copy attempt was skipped by
// policy before any I/O was attempted.
type BlacklistCategory string

const (
	HitBlacklisted    BlacklistCategory = "hit_blacklisted"
	BucketBlacklisted BlacklistCategory = "bucket_blacklisted"
)

// WdlExpressionError covers identifier resolution, type coercion, and
// collection-type-mismatch failures. It is fatal for the call it occurred in.
type WdlExpressionError struct {
	Identifier string
	Cause      error
}

func (e *WdlExpressionError) Error() string {
	return fmt.Sprintf("expression error resolving %q: %v", e.Identifier, e.Cause)
}

func (e *WdlExpressionError) Unwrap() error { return e.Cause }

// CopyAttemptError is a per-attempt cache-hit copy failure. It is loggable;
// the workflow may retry the call with a different cache hit.
type CopyAttemptError struct {
	Cause error
}

func (e *CopyAttemptError) Error() string {
	return fmt.Sprintf("cache-hit copy attempt failed: %v", e.Cause)
}

func (e *CopyAttemptError) Unwrap() error { return e.Cause }

// TimeoutException is the cause wrapped by a CopyAttemptError when an
// outstanding I/O command exceeds its per-command timeout.
type TimeoutException struct {
	Source      string
	Destination string
}

func (e *TimeoutException) Error() string {
	return fmt.Sprintf("timed out copying %s -> %s", e.Source, e.Destination)
}

// NewTimeoutError builds the CopyAttemptError the spec calls "TimeoutError",
// i.e. a CopyAttemptError whose cause is a TimeoutException.
func NewTimeoutError(source, destination string) *CopyAttemptError {
	return &CopyAttemptError{Cause: &TimeoutException{Source: source, Destination: destination}}
}

// BlacklistSkip means a cache-hit copy was skipped by policy, not attempted
// and failed. It is explicitly not loggable as an error (expected behavior).
type BlacklistSkip struct {
	Category BlacklistCategory
}

func (e *BlacklistSkip) Error() string {
	return fmt.Sprintf("cache-hit copy skipped: %s", e.Category)
}

// BackendError wraps any failure reported by Backend.Execute/Resume. It
// passes through to the Workflow FSM as CallFailed.
type BackendError struct {
	Cause error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: %v", e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }

// PersistenceError wraps a DataAccess failure. The workflow transitions to
// Failed on any PersistenceError raised during a state transition.
type PersistenceError struct {
	Operation string
	Cause     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Operation, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// FatalConfigurationError signals a missing required detritus key (e.g.
// CallRootPathKey) or similarly unrecoverable configuration defect.
type FatalConfigurationError struct {
	Detail string
}

func (e *FatalConfigurationError) Error() string {
	return fmt.Sprintf("fatal configuration error: %s", e.Detail)
}
