// Package status carries the RPC status pair (code, details) that flows
// alongside every call's trailing metadata, mirroring the enumeration used
// throughout the gRPC wire protocol this binding speaks.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/corerpc/corerpc/pkg/metadata"
)

// Code is a status code drawn from the standard RPC status set.
type Code uint32

const (
	OK Code = iota
	Cancelled
	Unknown
	InvalidArgument
	DeadlineExceeded
	NotFound
	AlreadyExists
	PermissionDenied
	ResourceExhausted
	FailedPrecondition
	Aborted
	OutOfRange
	Unimplemented
	Internal
	Unavailable
	DataLoss
	Unauthenticated
)

var codeNames = map[Code]string{
	OK:                 "OK",
	Cancelled:          "CANCELLED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	DataLoss:           "DATA_LOSS",
	Unauthenticated:    "UNAUTHENTICATED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", uint32(c))
}

// Status is the (code, details) pair attached to the trailing metadata of a
// terminated call. A Status with code OK implies the call produced a valid
// response; any other code implies it did not.
type Status struct {
	Code    Code
	Details string
}

// New builds a Status from a code and a details string.
func New(code Code, details string) *Status {
	return &Status{Code: code, Details: details}
}

// Newf builds a Status with a formatted details string.
func Newf(code Code, format string, args ...any) *Status {
	return New(code, fmt.Sprintf(format, args...))
}

// OK reports whether the status represents success.
func (s *Status) OK() bool {
	return s == nil || s.Code == OK
}

// Err converts the status into an error, or nil if the status is OK.
// The returned error always has a concrete *Error type so callers can
// recover the code/details with status.FromError.
func (s *Status) Err() error {
	if s.OK() {
		return nil
	}
	return &Error{status: s}
}

func (s *Status) String() string {
	if s == nil {
		return OK.String()
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Details)
}

// Error adapts a Status to the error interface. Remote statuses and local
// invalid-argument/call errors are both represented this way so callers can
// use a single FromError/Code code path regardless of origin.
type Error struct {
	status   *Status
	trailer  *metadata.MD
}

func (e *Error) Error() string {
	return e.status.String()
}

// Status returns the underlying Status.
func (e *Error) Status() *Status {
	return e.status
}

// WithMetadata attaches trailing metadata to the error (used by the unary
// and streaming drivers to surface the trailer alongside a remote status).
func (e *Error) WithMetadata(md *metadata.MD) *Error {
	return &Error{status: e.status, trailer: md}
}

// Metadata returns the trailing metadata attached via WithMetadata, if any.
func (e *Error) Metadata() *metadata.MD {
	return e.trailer
}

// ErrWithTrailer converts the status into an error carrying trailer as its
// attached metadata, or nil if the status is OK (trailer is then dropped,
// matching Err's OK handling).
func (s *Status) ErrWithTrailer(trailer *metadata.MD) error {
	e := s.Err()
	if e == nil {
		return nil
	}
	return e.(*Error).WithMetadata(trailer)
}

// Errorf builds an error with the given code and formatted details.
func Errorf(code Code, format string, args ...any) error {
	return New(code, fmt.Sprintf(format, args...)).Err()
}

// ErrorOf builds an error with the given code and details.
func ErrorOf(code Code, details string) error {
	return New(code, details).Err()
}

// FromError extracts the Status from an error produced by this package.
// An error matching context.Canceled or context.DeadlineExceeded maps to
// Cancelled or DeadlineExceeded. The second result is false for any other
// error, in which case the caller should treat the error as Code Unknown.
func FromError(err error) (*Status, bool) {
	if err == nil {
		return New(OK, ""), true
	}
	var se *Error
	if e, ok := err.(*Error); ok {
		se = e
	} else if errors.Is(err, context.Canceled) {
		return New(Cancelled, err.Error()), true
	} else if errors.Is(err, context.DeadlineExceeded) {
		return New(DeadlineExceeded, err.Error()), true
	} else {
		return New(Unknown, err.Error()), false
	}
	return se.status, true
}

// CodeOf extracts the status code from an error as FromError does:
// Unknown for errors it does not recognise, OK for a nil error.
func CodeOf(err error) Code {
	st, _ := FromError(err)
	return st.Code
}
