// Package common provides shared constants, types, and utilities
// used across the hostbridge application.
package common

import "errors"

// Sentinel errors for bridge operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Request errors.
	ErrTimeout   = errors.New("request timed out")
	ErrRemote    = errors.New("host reported an error")
	ErrNoHandler = errors.New("no handler for channel")

	// Channel and transport errors.
	ErrClosed            = errors.New("channel closed")
	ErrStandalone        = errors.New("host process not available")
	ErrInvokeUnsupported = errors.New("transport does not support invoke")
	ErrHostUnreachable   = errors.New("host process unreachable")
	ErrFrameTooLarge     = errors.New("frame too large")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrUnauthorized        = errors.New("session token rejected")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
