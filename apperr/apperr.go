// Package apperr defines the stable error taxonomy shared by all telepath
// components. Every failure surfaced to a caller carries one of a small set
// of kinds so the consuming application can render a specific message and
// decide whether a retry is safe.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind uint8

const (
	// KindInternal is an unclassified failure. Not retryable by default.
	KindInternal Kind = iota
	// KindValidation is malformed input. Reported to the caller, never
	// retried automatically.
	KindValidation
	// KindNotFound is an absent key, user, or message.
	KindNotFound
	// KindDecode is an authentication or tamper failure while unwrapping a
	// message. Always distinct from KindNotFound.
	KindDecode
	// KindEncode is a plaintext that cannot be represented for transit.
	KindEncode
	// KindConflict is a state constraint violation, such as the visibility
	// rule or a lost personal-key race. Whole-operation retry is allowed.
	KindConflict
	// KindTimeout is a storage call that exceeded its deadline. Eligible for
	// caller-side retry with backoff.
	KindTimeout
	// KindUnavailable is a storage backend that is not usable at all.
	KindUnavailable
)

// String returns the stable wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a kinded error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes two kinded errors match when their kinds match, so sentinel
// comparisons like errors.Is(err, apperr.NotFound("")) work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a kinded error.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kinded error around a cause.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(msg string) error  { return New(KindValidation, msg) }
func NotFound(msg string) error    { return New(KindNotFound, msg) }
func Decode(msg string) error      { return New(KindDecode, msg) }
func Encode(msg string) error      { return New(KindEncode, msg) }
func Conflict(msg string) error    { return New(KindConflict, msg) }
func Timeout(msg string) error     { return New(KindTimeout, msg) }
func Unavailable(msg string) error { return New(KindUnavailable, msg) }
func Internal(msg string) error    { return New(KindInternal, msg) }

// KindOf extracts the kind from err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsNotFound is shorthand for the most commonly checked kind.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// Retryable reports whether the caller may retry the whole operation.
// The core never retries internally to avoid duplicate side effects.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindUnavailable, KindConflict:
		return true
	default:
		return false
	}
}
