// Package failure classifies pipeline errors. Record- and line-level failures
// are recoverable and become counters or report entries; configuration and I/O
// failures abort the batch.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a pipeline failure.
type Kind string

const (
	// KindUnusable marks a raw record that yields no instruction/response pair.
	KindUnusable Kind = "unusable"
	// KindSerialization marks a record that could not be encoded.
	KindSerialization Kind = "serialization"
	// KindValidation marks a structural problem found in an emitted line.
	KindValidation Kind = "validation"
	// KindConfig marks an invalid catalog, alias list or other configuration.
	KindConfig Kind = "config"
	// KindIO marks an unreadable input or unwritable output stream.
	KindIO Kind = "io"
)

// Error is a classified failure. Errors may be nested via Cause so the
// original diagnostics survive wrapping while still supporting errors.Is/As.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Message is the human-readable summary of the failure.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind) + " failure"
	}
	return &Error{Kind: kind, Message: message}
}

// Errorf formats according to a format specifier and returns an Error of the
// given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies cause under kind. It returns a nil error when cause is nil,
// so the result can be returned directly.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	if message == "" {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf returns the kind of the outermost Error in err's chain, or the empty
// kind when err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRecoverable reports whether err affects a single record or line only.
// Unclassified errors are treated as fatal.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindUnusable, KindSerialization, KindValidation:
		return true
	default:
		return false
	}
}
