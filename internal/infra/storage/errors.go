package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a store failure. The set is closed: every backend maps its
// native errors onto one of these values.
type Kind int

const (
	KindUnknown Kind = iota
	KindCanceled
	KindInvalidArgument
	KindNotFound
	KindAlreadyExists
	KindPermissionDenied
	KindResourceExhausted
	KindUnavailable
	KindUnauthenticated
	KindDeadlineExceeded
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindCanceled:          "canceled",
	KindInvalidArgument:   "invalid-argument",
	KindNotFound:          "not-found",
	KindAlreadyExists:     "already-exists",
	KindPermissionDenied:  "permission-denied",
	KindResourceExhausted: "resource-exhausted",
	KindUnavailable:       "unavailable",
	KindUnauthenticated:   "unauthenticated",
	KindDeadlineExceeded:  "deadline-exceeded",
	KindInternal:          "internal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transient reports whether a failure of this kind is expected to clear on retry.
func (k Kind) Transient() bool {
	switch k {
	case KindUnavailable, KindResourceExhausted:
		return true
	default:
		return false
	}
}

// Error is the error type returned by DocumentStore implementations.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// RetryAfter is the server's retry hint, if it sent one.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an explicit kind.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Context errors
// and gRPC status errors are recognised even when not wrapped in *Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindDeadlineExceeded
	}
	if st, ok := status.FromError(err); ok {
		return kindFromCode(st.Code())
	}
	return KindUnknown
}

// IsTransient is shorthand for KindOf(err).Transient().
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}

// FromGRPC converts a gRPC status error into *Error, keeping any RetryInfo hint.
// A nil err returns nil.
func FromGRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &Error{Kind: KindOf(err), Op: op, Err: err}
	}
	out := &Error{Kind: kindFromCode(st.Code()), Op: op, Err: err}
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
			out.RetryAfter = ri.GetRetryDelay().AsDuration()
		}
	}
	return out
}

func kindFromCode(c codes.Code) Kind {
	switch c {
	case codes.Canceled:
		return KindCanceled
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return KindInvalidArgument
	case codes.NotFound:
		return KindNotFound
	case codes.AlreadyExists:
		return KindAlreadyExists
	case codes.PermissionDenied:
		return KindPermissionDenied
	case codes.ResourceExhausted:
		return KindResourceExhausted
	case codes.Unavailable:
		return KindUnavailable
	case codes.Unauthenticated:
		return KindUnauthenticated
	case codes.DeadlineExceeded:
		return KindDeadlineExceeded
	case codes.Internal, codes.DataLoss, codes.Unimplemented:
		return KindInternal
	default:
		return KindUnknown
	}
}
