package errors

import (
	"errors"
	"fmt"
)

// Domain error types for the regime feed

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Feed-specific errors

var (
	// ErrFeedStopTimeout indicates the feed loop did not stop within the bounded wait
	ErrFeedStopTimeout = errors.New("regime feed stop timeout")

	// ErrInvalidPort indicates a port outside the valid non-privileged TCP range
	ErrInvalidPort = errors.New("port outside valid range (1024-65535)")
)

// Broadcast-specific errors

var (
	// ErrNoClients indicates no consumers are connected to the broadcaster
	ErrNoClients = errors.New("no clients connected")

	// ErrBroadcasterClosed indicates the broadcaster has been shut down
	ErrBroadcasterClosed = errors.New("broadcaster closed")
)

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with a message
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New creates a new error
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error
func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
