// Package errs defines the typed error kinds shared by all ductor components.
package errs

import "fmt"

// Kind classifies an error for logging and boundary handling.
type Kind string

const (
	KindCLI       Kind = "CLI"
	KindSession   Kind = "SESSION"
	KindScheduler Kind = "SCHEDULER"
	KindStream    Kind = "STREAM"
	KindSecurity  Kind = "SECURITY"
	KindWebhook   Kind = "WEBHOOK"
	KindWorkspace Kind = "WORKSPACE"
	KindInfra     Kind = "INFRA"
)

// Error is a kinded error carrying a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kinded error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
// Returns nil when err is nil.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
