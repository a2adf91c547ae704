// Package errs classifies errors so callers can tell a dropped line from a
// condition that must stop the process.
package errs

import (
	"errors"
	"fmt"
)

// Class represents the classification of an error for handling purposes.
type Class int

const (
	// Transient errors affect a single line and are skipped.
	Transient Class = iota
	// Invalid errors come from bad input or configuration.
	Invalid
	// Fatal errors stop processing.
	Fatal
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its classification.
type ClassifiedError struct {
	Class     Class
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap adds context following the pattern "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class Class, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(Transient, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(Invalid, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(Fatal, err, component, method, action)
}

// ClassOf returns the class of the outermost classified error in err's
// chain. Unclassified errors are transient.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Transient
}

// IsFatal checks if an error is fatal and should stop processing.
func IsFatal(err error) bool {
	return err != nil && ClassOf(err) == Fatal
}

// IsInvalid checks if an error is due to invalid input or configuration.
func IsInvalid(err error) bool {
	return err != nil && ClassOf(err) == Invalid
}
