// Package errors provides standardized error handling for the automation
// suite. It includes error classification, standard error variables, and
// helper functions for consistent error wrapping across components.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass drives how callers react to a failure: transient errors
// get retried, invalid errors get reported to the caller, fatal errors
// stop the component.
type ErrorClass int

const (
	ErrorTransient ErrorClass = iota
	ErrorInvalid
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinels for conditions components match on with errors.Is.
var (
	// Component lifecycle
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connections and sessions
	ErrNotConnected        = errors.New("not connected to server")
	ErrConnectionLost      = errors.New("connection lost")
	ErrConnectionTimeout   = errors.New("connection timeout")
	ErrEndpointUnavailable = errors.New("no suitable endpoint available")

	// Subscriptions and addressing
	ErrNoSubscription     = errors.New("no active subscription")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrNodeNotFound       = errors.New("node not found")
	ErrNodeUnreadable     = errors.New("node not readable")
	ErrInvalidNodeID      = errors.New("invalid node id")

	// Data
	ErrInvalidValue    = errors.New("invalid value")
	ErrUnsupportedType = errors.New("unsupported value type")
	ErrBadStatus       = errors.New("bad status code")

	// Configuration
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingConfig   = errors.New("missing required configuration")
	ErrInvalidEndpoint = errors.New("invalid endpoint url")

	// Certificates
	ErrCertificateExists = errors.New("certificate and key already exist")
	ErrCertificateFailed = errors.New("certificate generation failed")

	// Resources
	ErrBufferFull  = errors.New("buffer full")
	ErrRateLimited = errors.New("rate limited")
)

// Sentinels that imply a class when no ClassifiedError is present.
var (
	transientSentinels = []error{
		ErrConnectionTimeout, ErrConnectionLost, ErrRateLimited,
		context.DeadlineExceeded, context.Canceled,
	}
	fatalSentinels = []error{
		ErrInvalidConfig, ErrMissingConfig, ErrCertificateFailed,
	}
	invalidSentinels = []error{
		ErrInvalidNodeID, ErrInvalidValue, ErrInvalidEndpoint, ErrUnsupportedType,
	}
)

// ClassifiedError carries a class plus the component and operation that
// produced the failure.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf looks for an explicit classification in the chain.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func matchesAny(err error, sentinels []error) bool {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying. Unclassified
// errors are matched against known sentinels and then against common
// transient phrasings from driver libraries.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	if matchesAny(err, transientSentinels) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "unavailable", "busy"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsFatal reports whether processing should stop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	return matchesAny(err, fatalSentinels)
}

// IsInvalid reports whether the input or configuration was bad.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return matchesAny(err, invalidSentinels)
}

// Classify buckets any error. Unknown errors default to transient so
// callers err on the side of retrying.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsTransient(err):
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// Wrap adds context in the form "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps with context and marks the error retryable.
func WrapTransient(err error, component, method, action string) error {
	return wrapClass(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps with context and marks the error unrecoverable.
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps with context and marks the error as bad input.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}

// Is reports whether any error in err's chain matches target. Re-exported
// so callers matching sentinels don't need a second errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
