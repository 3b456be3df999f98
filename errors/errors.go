// Package errors provides error handling for chime.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//   - Sentinel marking for the scheduling error taxonomy
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
//	if errors.IsInvalidSchedule(err) {
//	    // reject at the API boundary
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
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
	Is                      = crdb.Is
	IsAny                   = crdb.IsAny
	As                      = crdb.As
	Unwrap                  = crdb.Unwrap
	UnwrapOnce              = crdb.UnwrapOnce
	UnwrapAll               = crdb.UnwrapAll
	GetAllHints             = crdb.GetAllHints
	GetAllDetails           = crdb.GetAllDetails
	FlattenHints            = crdb.FlattenHints
	FlattenDetails          = crdb.FlattenDetails
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Assertions and panics
var (
	AssertionFailedf                 = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
)

// Sentinel errors for the scheduling domain.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested task or job does not exist
	ErrNotFound = New("not found")

	// ErrInvalidSchedule indicates a malformed cron expression or an
	// unresolvable trigger, rejected before any task or job is created
	ErrInvalidSchedule = New("invalid schedule")

	// ErrNoFeasibleTime indicates a trigger with no satisfiable occurrence
	// within the search horizon
	ErrNoFeasibleTime = New("no feasible fire time")

	// ErrDispatchFailed indicates notification delivery failed; the job
	// still advances to its next occurrence
	ErrDispatchFailed = New("dispatch failed")

	// ErrStoreUnavailable indicates the persistence layer could not be
	// reached; tick-time callers retry on the next cycle
	ErrStoreUnavailable = New("store unavailable")

	// ErrConflict indicates a lifecycle transition not legal from the
	// task's current status
	ErrConflict = New("conflicting task state")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
// Also provides backward compatibility with string-based "not found" errors.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrNotFound) {
		return true
	}
	// Backward compatibility: check error message
	// This supports wrapped driver errors that report custom strings
	errMsg := err.Error()
	return len(errMsg) >= 9 && (errMsg == "not found" ||
		errMsg[len(errMsg)-9:] == "not found" ||
		len(errMsg) > 10 && errMsg[:10] == "not found:")
}

// IsInvalidSchedule checks if an error is or wraps ErrInvalidSchedule
func IsInvalidSchedule(err error) bool {
	return err != nil && Is(err, ErrInvalidSchedule)
}

// IsNoFeasibleTime checks if an error is or wraps ErrNoFeasibleTime
func IsNoFeasibleTime(err error) bool {
	return err != nil && Is(err, ErrNoFeasibleTime)
}

// IsDispatchFailed checks if an error is or wraps ErrDispatchFailed
func IsDispatchFailed(err error) bool {
	return err != nil && Is(err, ErrDispatchFailed)
}

// IsStoreUnavailable checks if an error is or wraps ErrStoreUnavailable
func IsStoreUnavailable(err error) bool {
	return err != nil && Is(err, ErrStoreUnavailable)
}

// IsConflict checks if an error is or wraps ErrConflict
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// MarkInvalidSchedule marks an error as part of the invalid-schedule class
// while keeping the original message and stack.
func MarkInvalidSchedule(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrInvalidSchedule)
}

// WrapStoreUnavailable marks a persistence failure and adds context.
func WrapStoreUnavailable(err error, context string) error {
	if err == nil {
		return nil
	}
	return Wrap(Mark(err, ErrStoreUnavailable), context)
}

// WrapNotFound wraps an error as a not-found error with context
func WrapNotFound(err error, context string) error {
	return Wrap(Wrap(ErrNotFound, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewConflictError creates a conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}
