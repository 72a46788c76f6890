// Package errors provides error handling for rtrtriage.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//   - Network portability for distributed systems
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "try increasing the timeout")
//
//	// Check errors
//	if errors.Is(err, ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Advanced features
var (
	Handled                 = crdb.Handled
	HandledWithMessage      = crdb.HandledWithMessage
	WithDomain              = crdb.WithDomain
	GetDomain               = crdb.GetDomain
	WithContextTags         = crdb.WithContextTags
	EncodeError             = crdb.EncodeError
	DecodeError             = crdb.DecodeError
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Assertions and panics
var (
	AssertionFailedf                = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
)

// Kind identifies which of the engine's error categories a failure belongs
// to. Callers classify with errors.Is against the sentinels
// below; the underlying cockroachdb/errors chain still carries the stack,
// hint and detail for operator-facing output.
type Kind struct {
	name string
}

func (k Kind) Error() string { return k.name }

// Sentinel error kinds. Wrap the underlying cause with errors.Wrap(ErrX, ...)
// and test with errors.Is(err, errors.ErrX).
var (
	// ErrNotFound: a hostname does not resolve to an agent-id.
	ErrNotFound = Kind{"not_found"}
	// ErrAuthFailed: credential rejection by the control plane or object storage.
	ErrAuthFailed = Kind{"auth_failed"}
	// ErrSessionLost: a pulse failed, or a command transport-errored after a
	// pulse interval elapsed.
	ErrSessionLost = Kind{"session_lost"}
	// ErrCommandTimeout: a poll loop exceeded its deadline.
	ErrCommandTimeout = Kind{"command_timeout"}
	// ErrPreconditionFailed: cleanup could not produce a clean workspace.
	ErrPreconditionFailed = Kind{"precondition_failed"}
	// ErrCollectorFailed: the collector process exited non-zero, or no
	// output archive emerged.
	ErrCollectorFailed = Kind{"collector_failed"}
	// ErrTransferFailed: SHA never arrived, extracted-file polling
	// exhausted, or HEAD verification failed.
	ErrTransferFailed = Kind{"transfer_failed"}
	// ErrRemoteError: an RTR result carried stderr the caller expected clean.
	ErrRemoteError = Kind{"remote_error"}
)
