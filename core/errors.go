package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers. Each kind maps to a distinct
// caller-facing status and message.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindConfiguration         Kind = "configuration"
	KindTool                  Kind = "tool"
	KindToolServerUnavailable Kind = "tool_server_unavailable"
	KindRateLimited           Kind = "rate_limited"
	KindContentBlocked        Kind = "content_blocked"
	KindTimeout               Kind = "timeout"
	KindAuth                  Kind = "auth"
	KindModel                 Kind = "model_error"
)

// Error is a classified failure. Message is safe to show to end users; Detail
// preserves the raw diagnostic for operators.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"error"`
	Detail  string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error wrapping cause. Detail is taken from the
// cause when present.
func NewError(kind Kind, message string, cause error) *Error {
	e := &Error{Kind: kind, Message: message, Err: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// ValidationErrorf creates a KindValidation error.
func ValidationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UnrecognizedPartError is returned when a part cannot be mapped onto one of
// the known Part variants. Decoding fails closed instead of dropping content.
type UnrecognizedPartError struct {
	Index  int    // Position of the part within its turn
	Detail string // Short description of the offending shape
}

func (e *UnrecognizedPartError) Error() string {
	return fmt.Sprintf("unrecognized part at index %d: %s", e.Index, e.Detail)
}
