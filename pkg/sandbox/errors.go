package sandbox

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorKind classifies sandbox failures. Values double as the wire codes
// recorded on submissions.
type ErrorKind string

const (
	ErrorKindDumpLoad  ErrorKind = "dump_load_error"
	ErrorKindSyntax    ErrorKind = "syntax_error"
	ErrorKindRuntime   ErrorKind = "runtime_error"
	ErrorKindTimeout   ErrorKind = "execution_timeout"
	ErrorKindForbidden ErrorKind = "forbidden_operation"
	ErrorKindSnapshot  ErrorKind = "snapshot_error"
)

// ErrInstanceClosed is returned when an operation targets a torn down instance.
var ErrInstanceClosed = errors.New("sandbox instance closed")

// ErrAllocation marks load failures caused by the engine rather than the dump.
var ErrAllocation = errors.New("sandbox allocation failed")

// IsAllocation reports whether err is an allocation failure.
func IsAllocation(err error) bool { return errors.Is(err, ErrAllocation) }

// Error is a classified sandbox failure. Statement is the zero based index of
// the failing statement, or -1 when the failure is not tied to one.
type Error struct {
	Kind      ErrorKind
	Statement int
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Statement >= 0 {
		return fmt.Sprintf("statement %d: %s", e.Statement+1, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StudentFacing reports whether the message may be shown to the author of the
// script. Dump and snapshot failures are infrastructure problems.
func (e *Error) StudentFacing() bool {
	switch e.Kind {
	case ErrorKindSyntax, ErrorKindRuntime, ErrorKindTimeout, ErrorKindForbidden:
		return true
	default:
		return false
	}
}

func newError(kind ErrorKind, statement int, message string, cause error) *Error {
	return &Error{Kind: kind, Statement: statement, Message: message, Err: cause}
}

// KindOf extracts the classification of err, if it is a sandbox error.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a sandbox error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
