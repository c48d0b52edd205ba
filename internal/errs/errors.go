// Package errs provides the unified error type used across all of driftbox.
//
// Every subsystem (drivers, sandboxes, the registry, the orchestrator) wraps
// its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to handle errors without importing
// driver-specific packages.
//
// Usage:
//
//	// In a driver — wrap native errors:
//	return errs.Wrap(errs.ErrKindIntrospection, "list tables", pgErr)
//
//	// In a caller — check error kind:
//	if errs.IsValidation(err) {
//	    for _, d := range errs.DetailsOf(err) { fmt.Println(d) }
//	}
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no object, no sandbox
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // SQL or storage operation error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied / auth failure
	ErrKindIntrospection            // schema read failed
	ErrKindValidation               // candidate script rejected
	ErrKindApply                    // a DDL statement failed against a sandbox
	ErrKindProvisioning             // sandbox could not be created
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindIntrospection:
		return "introspection_failed"
	case ErrKindValidation:
		return "validation_failed"
	case ErrKindApply:
		return "apply_failed"
	case ErrKindProvisioning:
		return "provisioning_failed"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all driftbox subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging

	// Details enumerates individual problems, e.g. every rejected statement
	// of a candidate script.
	Details []string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithDetails creates an *Error carrying a list of individual problems.
func WithDetails(kind ErrKind, msg string, details []string) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

// Rekind wraps err under a new kind unless it already carries one of the
// preview-level kinds. Driver errors surfacing from an introspection become
// ErrKindIntrospection while keeping the original as Cause.
func Rekind(kind ErrKind, msg string, err error) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case ErrKindIntrospection, ErrKindValidation, ErrKindApply, ErrKindProvisioning:
		return err
	}
	return Wrap(kind, msg, err)
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsIntrospection reports whether a schema read failed.
func IsIntrospection(err error) bool {
	return KindOf(err) == ErrKindIntrospection
}

// IsValidation reports whether a candidate script was rejected.
func IsValidation(err error) bool {
	return KindOf(err) == ErrKindValidation
}

// IsApply reports whether a DDL statement failed against a sandbox.
func IsApply(err error) bool {
	return KindOf(err) == ErrKindApply
}

// IsProvisioning reports whether a sandbox could not be created.
func IsProvisioning(err error) bool {
	return KindOf(err) == ErrKindProvisioning
}

// KindOf extracts the ErrKind of the outermost *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// DetailsOf returns the Details of the outermost *Error in the chain.
func DetailsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
