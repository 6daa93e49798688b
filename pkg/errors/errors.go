// Package errors defines the typed error taxonomy used across the batch
// migration engine. Each kind has a constructor and a matching Is* predicate
// so callers can branch on failure class without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets from the error
// handling design: Configuration, Precondition, Transient, ExternalTool,
// Timeout, Integrity, Cancelled.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindPrecondition  Kind = "precondition"
	KindTransient     Kind = "transient"
	KindExternalTool  Kind = "external_tool"
	KindTimeout       Kind = "timeout"
	KindIntegrity     Kind = "integrity"
	KindCancelled     Kind = "cancelled"
	KindNotFound      Kind = "not_found"
)

// Error is the concrete error type carrying a Kind plus the stage it
// occurred in (empty outside the pipeline) and an optional wrapped cause.
type Error struct {
	Kind  Kind
	Stage string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Stage, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// WithStage returns a copy of the error annotated with the stage it failed in.
func (e *Error) WithStage(stage string) *Error {
	c := *e
	c.Stage = stage
	return &c
}

func NewConfigurationError(format string, args ...any) *Error {
	return new_(KindConfiguration, fmt.Sprintf(format, args...), nil)
}

func NewPreconditionError(format string, args ...any) *Error {
	return new_(KindPrecondition, fmt.Sprintf(format, args...), nil)
}

func NewTransientError(cause error, format string, args ...any) *Error {
	return new_(KindTransient, fmt.Sprintf(format, args...), cause)
}

// NewExternalToolError wraps a failed subprocess invocation, capping the
// stderr tail the way the original tooling does (~500 bytes).
func NewExternalToolError(tool string, exitCode int, stderrTail string) *Error {
	if len(stderrTail) > 500 {
		stderrTail = stderrTail[len(stderrTail)-500:]
	}
	return new_(KindExternalTool, fmt.Sprintf("%s exited %d: %s", tool, exitCode, stderrTail), nil)
}

func NewTimeoutError(format string, args ...any) *Error {
	return new_(KindTimeout, fmt.Sprintf(format, args...), nil)
}

func NewIntegrityError(format string, args ...any) *Error {
	return new_(KindIntegrity, fmt.Sprintf(format, args...), nil)
}

func NewCancelledError(stage string) *Error {
	return new_(KindCancelled, "operation cancelled", nil).WithStage(stage)
}

func NewNotFoundError(format string, args ...any) *Error {
	return new_(KindNotFound, fmt.Sprintf(format, args...), nil)
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsConfigurationError(err error) bool { k, ok := kindOf(err); return ok && k == KindConfiguration }
func IsPreconditionError(err error) bool  { k, ok := kindOf(err); return ok && k == KindPrecondition }
func IsTransientError(err error) bool     { k, ok := kindOf(err); return ok && k == KindTransient }
func IsExternalToolError(err error) bool  { k, ok := kindOf(err); return ok && k == KindExternalTool }
func IsTimeoutError(err error) bool       { k, ok := kindOf(err); return ok && k == KindTimeout }
func IsIntegrityError(err error) bool     { k, ok := kindOf(err); return ok && k == KindIntegrity }
func IsCancelledError(err error) bool     { k, ok := kindOf(err); return ok && k == KindCancelled }
func IsNotFoundError(err error) bool      { k, ok := kindOf(err); return ok && k == KindNotFound }

// Stage returns the stage annotation, if any.
func Stage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
