// Package errs defines the scheduler's closed taxonomy of error kinds and the
// Error type RPC facades convert every failure into before it crosses the
// wire.
package errs

import "fmt"

// Kind is one of the eight well-known scheduler error kinds; any other key
// maps to CodeUnknown. It is a closed set: new failure modes must be mapped
// onto one of these, never invented ad hoc at a call site.
type Kind string

const (
	InvalidRequest         Kind = "INVALID_REQUEST"
	InvalidToken           Kind = "INVALID_TOKEN"
	JobNotFound            Kind = "JOB_NOT_FOUND"
	InvalidJobState        Kind = "INVALID_JOB_STATE"
	ResourceLimitExceeded  Kind = "RESOURCE_LIMIT_EXCEEDED"
	ServerUnavailable      Kind = "SERVER_UNAVAILABLE"
	InternalError          Kind = "INTERNAL_ERROR"
	CriticalError          Kind = "CRITICAL_ERROR"
)

// Code is the gRPC-style status code associated with a Kind.
type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
	CodeUnknown            Code = "UNKNOWN"
)

var codes = map[Kind]Code{
	InvalidRequest:        CodeInvalidArgument,
	InvalidToken:          CodeUnauthenticated,
	JobNotFound:           CodeNotFound,
	InvalidJobState:       CodeFailedPrecondition,
	ResourceLimitExceeded: CodeResourceExhausted,
	ServerUnavailable:     CodeUnavailable,
	InternalError:         CodeInternal,
	CriticalError:         CodeInternal,
}

// CodeFor returns the status code for a Kind, or CodeUnknown for an
// unrecognized kind.
func CodeFor(k Kind) Code {
	if c, ok := codes[k]; ok {
		return c
	}
	return CodeUnknown
}

// Error is the structured error every scheduler operation returns instead of
// an opaque error value, so RPC facades can translate it without guessing.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	// Details carries the template arguments (job_id, reason, ...) used to
	// render Message via the status-message catalog, for callers that need
	// the raw values rather than the rendered string.
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a rendered message and the code
// derived from the kind.
func New(kind Kind, message string, details map[string]string) *Error {
	return &Error{Kind: kind, Code: CodeFor(kind), Message: message, Details: details}
}

// Wrap attaches cause to a new Error of the given kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Code: CodeFor(kind), Message: message, Cause: cause}
}

// As extracts *Error from err, if present.
func As(err error) (*Error, bool) {
	se, ok := err.(*Error)
	return se, ok
}
