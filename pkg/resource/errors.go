package resource

import (
	"errors"
	"fmt"
)

// ErrorClass classifies reconciliation errors.
type ErrorClass string

const (
	// ErrorClassConfiguration marks malformed construction arguments.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassResolution marks a symbolic owner or group that could not be
	// resolved to a numeric id.
	ErrorClassResolution ErrorClass = "resolution"

	// ErrorClassMutation marks a failed create, ownership or permission change.
	ErrorClassMutation ErrorClass = "mutation"

	// ErrorClassObservation marks metadata that could not be read. These are
	// normally logged rather than returned.
	ErrorClassObservation ErrorClass = "observation"
)

// Error is a classified reconciliation error with enough context to diagnose
// without re-running.
type Error struct {
	// Class is the error classification.
	Class ErrorClass

	// Message is the human-readable error message.
	Message string

	// Path is the resource path.
	Path string

	// Attribute is the state or parameter involved, if any.
	Attribute string

	// Value is the attempted or offending value, if any.
	Value interface{}

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s", e.Path)
		if e.Attribute != "" {
			msg += fmt.Sprintf(", attribute=%s", e.Attribute)
		}
		if e.Value != nil {
			msg += fmt.Sprintf(", value=%v", e.Value)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

func newError(class ErrorClass, path, attribute string, value interface{}, err error, format string, args ...interface{}) *Error {
	return &Error{
		Class:     class,
		Message:   fmt.Sprintf(format, args...),
		Path:      path,
		Attribute: attribute,
		Value:     value,
		Err:       err,
	}
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(path, attribute string, value interface{}, err error) *Error {
	return newError(ErrorClassConfiguration, path, attribute, value, err, "invalid %s", describe(attribute))
}

// NewResolutionError creates a resolution error for a symbolic name.
func NewResolutionError(path, attribute, name string, err error) *Error {
	return newError(ErrorClassResolution, path, attribute, name, err, "could not resolve %s %q", attribute, name)
}

// NewMutationError creates a mutation error.
func NewMutationError(path, attribute string, value interface{}, err error, op string) *Error {
	return newError(ErrorClassMutation, path, attribute, value, err, "failed to %s", op)
}

func describe(attribute string) string {
	if attribute == "" {
		return "resource"
	}
	return attribute
}

func isClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return isClass(err, ErrorClassConfiguration) }

// IsResolution reports whether err is a resolution error.
func IsResolution(err error) bool { return isClass(err, ErrorClassResolution) }

// IsMutation reports whether err is a mutation error.
func IsMutation(err error) bool { return isClass(err, ErrorClassMutation) }

// ClassOf returns the class of err, or "unknown" for unclassified errors.
func ClassOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return string(e.Class)
	}
	return "unknown"
}
