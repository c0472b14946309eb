// Package runerr classifies the failures a run can surface to the user.
package runerr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a run failure
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMissingDependency
	KindInvalidInput
	KindSafetyRejected
	KindExternalToolFailure
	KindFrameProcessingFailure
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindMissingDependency:
		return "MissingDependency"
	case KindInvalidInput:
		return "InvalidInput"
	case KindSafetyRejected:
		return "SafetyRejected"
	case KindExternalToolFailure:
		return "ExternalToolFailure"
	case KindFrameProcessingFailure:
		return "FrameProcessingFailure"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrMissingDependency      = &Error{Kind: KindMissingDependency}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput}
	ErrSafetyRejected         = &Error{Kind: KindSafetyRejected}
	ErrExternalToolFailure    = &Error{Kind: KindExternalToolFailure}
	ErrFrameProcessingFailure = &Error{Kind: KindFrameProcessingFailure}
)

// Error is a classified failure
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and the operation that failed
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost classified error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Classify keeps an already classified error and wraps anything else with kind
func Classify(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return New(kind, op, err)
}
