// Package errors provides error handling for ontogen.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Error marks, so a wrapped failure can be classified with Is
//
// Usage:
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Classify a failure without losing its cause
//	return errors.Mark(err, errors.ErrRequestTimeout)
//
//	// Check errors
//	if errors.Is(err, errors.ErrExhaustedRetries) {
//	    // the request gave up
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
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
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

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Common sentinel errors for use across ontogen.
// Use these with errors.Is() for type-safe error checking.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrInvalidConfig indicates the configuration cannot be used.
	// This is the only condition that aborts a worker process.
	ErrInvalidConfig = New("invalid configuration")

	// ErrRequestTimeout indicates one attempt against the generative service
	// exceeded its per-attempt deadline
	ErrRequestTimeout = New("request timed out")

	// ErrRequestFailed indicates one attempt errored or returned a reply that
	// did not match the expected shape
	ErrRequestFailed = New("request failed")

	// ErrExhaustedRetries is terminal for one logical request: every attempt failed
	ErrExhaustedRetries = New("retries exhausted")

	// ErrDecode indicates a reply could not be decoded into the expected shape
	ErrDecode = New("decode failed")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsTimeout reports whether err is a per-attempt request timeout
func IsTimeout(err error) bool {
	return err != nil && Is(err, ErrRequestTimeout)
}

// NewInvalidConfigError creates an invalid-configuration error with a formatted message
func NewInvalidConfigError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidConfig)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}
