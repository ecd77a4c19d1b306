package engine

import "github.com/pkg/errors"

// ErrorKind classifies the failure modes an Engine surfaces to callers.
// RaceLost is deliberately absent from the callers' view: it is resolved
// internally by the publish protocol and never returned from Execute.
type ErrorKind string

const (
	ErrKindInvalidArgument  ErrorKind = "InvalidArgument"
	ErrKindUnserializable   ErrorKind = "Unserializable"
	ErrKindNotFound         ErrorKind = "NotFound"
	ErrKindCorrupt          ErrorKind = "Corrupt"
	ErrKindIO               ErrorKind = "IO"
	ErrKindUserFnFailed     ErrorKind = "UserFnFailed"
	ErrKindDependencyFailed ErrorKind = "DependencyFailed"
)

// Error is the error type returned by every Engine operation that fails.
// It carries enough context (kind, fingerprint, phase) for a caller to
// choose retry/abort/forget without re-deriving it from a wrapped string.
type Error struct {
	Kind         ErrorKind
	ExecutorKind string
	Fingerprint  string
	Phase        string
	cause        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.ExecutorKind != "" {
		msg += " kind=" + e.ExecutorKind
	}
	if e.Fingerprint != "" {
		msg += " fingerprint=" + e.Fingerprint
	}
	if e.Phase != "" {
		msg += " phase=" + e.Phase
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, executorKind, fingerprint, phase string, cause error) *Error {
	return &Error{Kind: kind, ExecutorKind: executorKind, Fingerprint: fingerprint, Phase: phase, cause: cause}
}

// wrapf builds an *Error using errors.Wrap on cause first, so the chain
// retains a stack trace in the pkg/errors style used throughout the store
// and publish packages.
func wrapf(kind ErrorKind, executorKind, fingerprint, phase string, cause error, format string, args ...any) *Error {
	wrapped := errors.Wrapf(cause, format, args...)
	return newError(kind, executorKind, fingerprint, phase, wrapped)
}
