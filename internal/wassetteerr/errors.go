// Package wassetteerr defines the stable error taxonomy shared by every
// subsystem: the lifecycle manager, the policy compiler, the sandbox
// instantiator, and the tool dispatcher all report failures as a *Error
// carrying one of the Kind values below, so callers can classify a failure
// without string-matching messages.
package wassetteerr

import "fmt"

// Kind is a stable string discriminant for an error's category.
type Kind string

const (
	InvalidInput     Kind = "InvalidInput"
	RateLimited      Kind = "RateLimited"
	NotFound         Kind = "NotFound"
	ToolNameConflict Kind = "ToolNameConflict"
	PolicyViolation  Kind = "PolicyViolation"
	ExecutionFailure Kind = "ExecutionFailure"
	RuntimeError     Kind = "RuntimeError"
	IoError          Kind = "IoError"
	SignatureError   Kind = "SignatureError"
)

// Error is the error type returned across subsystem boundaries. Cause is
// preserved for %w unwrapping but Kind is what callers should switch on.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error carrying cause as the underlying error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise so callers can fall back to a default classification.
func KindOf(err error) (Kind, bool) {
	var werr *Error
	if ok := asError(err, &werr); ok {
		return werr.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
