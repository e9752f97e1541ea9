// Package cloud holds the error taxonomy shared by the record synchronization packages.
//
// Sentinels can be checked with errors.Is, typed failures with errors.As:
//
//	var pubErr *cloud.PublishFailedError
//	if errors.As(err, &pubErr) {
//	    // pubErr.Cause is the remote store error
//	}
package cloud

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRemoteCounterpart is returned when a local entity has no identifier
	// from which a remote record identifier can be derived.
	ErrNoRemoteCounterpart = errors.New("entity has no remote counterpart")

	// ErrRecordNotFound is returned by remote stores when a record does not exist.
	// Probing recovers it into a state; it is never surfaced from a publish.
	ErrRecordNotFound = errors.New("record not found")

	// ErrCancelled is returned for a queued operation that was cancelled
	// before it started.
	ErrCancelled = errors.New("operation cancelled before start")

	// ErrClosed is returned when an operation is submitted to a closed coordinator.
	ErrClosed = errors.New("coordinator closed")

	// ErrSessionUnavailable is returned by identity services when no account
	// is signed in.
	ErrSessionUnavailable = errors.New("account session not available")
)

// PublishFailedError reports a failed publish after the probe step.
type PublishFailedError struct {
	RecordID string
	Cause    error
}

func (e *PublishFailedError) Error() string {
	return fmt.Sprintf("publish of record %s failed: %v", e.RecordID, e.Cause)
}

func (e *PublishFailedError) Unwrap() error { return e.Cause }

// UnpublishFailedError reports a failed remote delete.
type UnpublishFailedError struct {
	RecordID string
	Cause    error
}

func (e *UnpublishFailedError) Error() string {
	return fmt.Sprintf("unpublish of record %s failed: %v", e.RecordID, e.Cause)
}

func (e *UnpublishFailedError) Unwrap() error { return e.Cause }

// IdentityQueryFailedError reports that a whole identity discovery call failed.
// Individual identifiers that do not resolve are not errors.
type IdentityQueryFailedError struct {
	Cause error
}

func (e *IdentityQueryFailedError) Error() string {
	return fmt.Sprintf("identity query failed: %v", e.Cause)
}

func (e *IdentityQueryFailedError) Unwrap() error { return e.Cause }

// ReconciliationAbortedError reports that the remote fetch of a reconciliation
// pass failed. The local mirror was not touched.
type ReconciliationAbortedError struct {
	Scope string
	Cause error
}

func (e *ReconciliationAbortedError) Error() string {
	return fmt.Sprintf("reconciliation of %s aborted: %v", e.Scope, e.Cause)
}

func (e *ReconciliationAbortedError) Unwrap() error { return e.Cause }

// LocalCommitFailedError reports that the local batch commit of a
// reconciliation pass failed. No partial state is left behind.
type LocalCommitFailedError struct {
	Scope string
	Cause error
}

func (e *LocalCommitFailedError) Error() string {
	return fmt.Sprintf("local commit for %s failed: %v", e.Scope, e.Cause)
}

func (e *LocalCommitFailedError) Unwrap() error { return e.Cause }

// IsRetryable returns true if repeating the whole operation later may succeed.
// Remote failures are transient from the core's point of view; the caller
// owns the retry policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		pubErr   *PublishFailedError
		unpubErr *UnpublishFailedError
		idErr    *IdentityQueryFailedError
		abortErr *ReconciliationAbortedError
	)
	switch {
	case errors.As(err, &pubErr), errors.As(err, &unpubErr):
		return true
	case errors.As(err, &idErr), errors.As(err, &abortErr):
		return true
	}
	return false
}

// IsFatal returns true if the operation cannot complete and retrying it
// immediately is pointless. The caller decides whether to stop the process.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var commitErr *LocalCommitFailedError
	if errors.As(err, &commitErr) {
		return true
	}

	return errors.Is(err, ErrNoRemoteCounterpart) || errors.Is(err, ErrClosed)
}
