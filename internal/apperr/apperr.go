// Package apperr defines the error taxonomy shared by the auth, generation
// and output layers, and the failure classification used to drive recovery.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the coarse category of an error surfaced to tool callers.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindAuth          Kind = "auth"
	KindProvider      Kind = "provider"
	KindTransient     Kind = "transient"
	KindNotFound      Kind = "not_found"
	KindConversion    Kind = "conversion"
	KindUnknown       Kind = "unknown"
)

// FailureClass classifies an identity or provider outcome.
type FailureClass string

const (
	ClassExpiredOrInvalid FailureClass = "expired_or_invalid"
	ClassForbidden        FailureClass = "forbidden"
	ClassRateLimited      FailureClass = "rate_limited"
	ClassTransient        FailureClass = "transient"
)

// Recoverable reports whether the class can clear without operator action.
func (c FailureClass) Recoverable() bool {
	return c == ClassRateLimited || c == ClassTransient
}

// Error is the single error type carried across package boundaries.
type Error struct {
	Kind  Kind
	Class FailureClass
	// Code is an optional machine-readable refinement of Kind
	// (e.g. "invalid_target", "insufficient_credits").
	Code string
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Configuration returns a fatal startup error.
func Configuration(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation returns an error for caller input rejected before any network call.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InvalidTarget returns a validation error for an unknown output target name.
func InvalidTarget(name string, valid []string) *Error {
	return &Error{
		Kind: KindValidation,
		Code: "invalid_target",
		Op:   "resolve",
		Msg:  fmt.Sprintf("unknown output target %q (valid: %v)", name, valid),
	}
}

// Auth returns an authentication error with the given classification.
func Auth(op string, class FailureClass, err error) *Error {
	return &Error{Kind: KindAuth, Class: class, Op: op, Err: err}
}

// Provider returns a non-retryable error reported by the generation service.
func Provider(op, code, format string, args ...any) *Error {
	return &Error{Kind: KindProvider, Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transient returns a retryable network or availability error.
func Transient(op string, class FailureClass, err error) *Error {
	if class == "" {
		class = ClassTransient
	}
	return &Error{Kind: KindTransient, Class: class, Op: op, Err: err}
}

// NotFound returns an error for a missing file or resource.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Conversion returns an audio normalisation failure.
func Conversion(op string, err error) *Error {
	return &Error{Kind: KindConversion, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ClassOf returns the failure class of the first classified *Error in err's chain.
func ClassOf(err error) (FailureClass, bool) {
	var e *Error
	if errors.As(err, &e) && e.Class != "" {
		return e.Class, true
	}
	return "", false
}

// CodeOf returns a stable machine-readable code for err.
func CodeOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal_error"
	}
	if e.Code != "" {
		return e.Code
	}
	switch e.Kind {
	case KindConfiguration:
		return "configuration_error"
	case KindValidation:
		return "validation_error"
	case KindAuth:
		return "auth_error"
	case KindProvider:
		return "provider_error"
	case KindTransient:
		return "transient_error"
	case KindNotFound:
		return "not_found"
	case KindConversion:
		return "conversion_error"
	}
	return "internal_error"
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
