// Package apperror defines the core's error taxonomy (§7 of the spec).
// Every error the core surfaces to a caller that needs to branch on
// "what kind of failure was this" is, or wraps, an *Error.
package apperror

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the core can produce.
type Kind string

const (
	// KindSealed is returned when an operation needing the master key
	// is attempted while the vault is sealed.
	KindSealed Kind = "sealed"
	// KindNotInitialized is returned for a master-key operation before init.
	KindNotInitialized Kind = "not_initialized"
	// KindAlreadyInitialized is returned when init is attempted twice.
	// Informational, not a failure, for the coordinator.
	KindAlreadyInitialized Kind = "already_initialized"
	// KindInsufficientShares is returned when the unseal threshold has
	// not yet been met; retryable by submitting more shares.
	KindInsufficientShares Kind = "insufficient_shares"
	// KindInvalidShare is returned when a share fails structural checks.
	KindInvalidShare Kind = "invalid_share"
	// KindReconstructionFailed is returned when combining t admissible
	// shares produced a bad result. Operator-facing corruption signal.
	KindReconstructionFailed Kind = "reconstruction_failed"
	// KindLockTimeout is returned when a distributed lock was not
	// acquired within its timeout.
	KindLockTimeout Kind = "lock_timeout"
	// KindPolicyDenied is returned when the policy evaluator denied access.
	KindPolicyDenied Kind = "policy_denied"
	// KindNotFound is returned for a missing secret, policy, or node.
	KindNotFound Kind = "not_found"
	// KindAEADFailure is returned when AEAD decryption tag verification
	// fails — a data-integrity incident, never retried.
	KindAEADFailure Kind = "aead_failure"
	// KindAuditWriteFailure is returned when an audit append failed.
	// The triggering operation must be aborted, never retried silently.
	KindAuditWriteFailure Kind = "audit_write_failure"
)

// Error is a structured error carrying a Kind plus a caller-safe reason.
// Reason must never contain key material, share bytes, or other secrets.
type Error struct {
	Kind   Kind
	Reason string
	err    error // optional wrapped cause, not shown to HTTP callers
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.err }

// New creates an *Error of the given kind with a reason string.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap creates an *Error of the given kind that wraps an underlying cause.
// The cause is retained for %w-based unwrapping but is never serialized
// into Reason, so logs stay safe by default — callers that want the
// detail use errors.Unwrap explicitly.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, err: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ok=false if err is not
// (or does not wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
