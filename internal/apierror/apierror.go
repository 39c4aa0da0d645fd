// Package apierror carries the structured error taxonomy that every
// core component returns. Wire codecs in internal/wire/* render an
// *Error into their dialect's envelope; nothing above the core ever
// needs to know the HTTP status for a given failure, only its Kind.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an operation failure. It is deliberately small and
// closed — new failure modes should map onto one of these, not grow
// the set.
type Kind string

const (
	NotFound        Kind = "not-found"
	AlreadyExists   Kind = "already-exists"
	InvalidArgument Kind = "invalid-argument"
	Conflict        Kind = "conflict"
	Internal        Kind = "internal"
)

// Error is the single structured error carrier that propagates out of
// the core. Handler faults and timeouts never become an *Error — they
// are captured inside an InvokeResult (see internal/runtime) and never
// propagate out of the invocation call.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an *Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the HTTP status the wire layer should send.
func (k Kind) HTTPStatus() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists:
		return http.StatusConflict
	case InvalidArgument:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// AWSType maps a Kind to the `__type` / X-Amzn-ErrorType service code
// AWS JSON/REST-JSON codecs expect.
func (k Kind) AWSType() string {
	switch k {
	case NotFound:
		return "ResourceNotFoundException"
	case AlreadyExists:
		return "ResourceConflictException"
	case InvalidArgument:
		return "InvalidParameterValueException"
	case Conflict:
		return "ResourceConflictException"
	default:
		return "InternalServerError"
	}
}

// XMLCode maps a Kind to the <Code> an S3/CloudFormation style XML
// error document expects.
func (k Kind) XMLCode() string {
	switch k {
	case NotFound:
		return "NoSuchKey"
	case AlreadyExists:
		return "BucketAlreadyExists"
	case InvalidArgument:
		return "InvalidArgument"
	case Conflict:
		return "BucketNotEmpty"
	default:
		return "InternalError"
	}
}
