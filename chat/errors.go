package chat

import (
	"context"
	"errors"
)

var (
	// ErrRemoteDisconnect is returned by ReceiveLines when the server closed
	// the connection (zero-byte read). Listen recovers from it by reconnecting.
	ErrRemoteDisconnect = errors.New("chat: remote disconnect")
	// ErrSocketIdle means no bytes at all arrived within the socket idle timeout.
	ErrSocketIdle = errors.New("chat: socket idle timeout")
	// ErrHandshakeTimeout means an auth or join confirmation did not arrive in time.
	ErrHandshakeTimeout = errors.New("chat: handshake timed out")
	// ErrAttemptsExhausted wraps the last handshake failure once the attempt
	// ceiling is reached. It is fatal.
	ErrAttemptsExhausted = errors.New("chat: connect attempts exhausted")
	// ErrAuthRejected means the server refused the credentials. Retrying with
	// the same token cannot succeed, so it is fatal.
	ErrAuthRejected = errors.New("chat: login authentication failed")
)

// ErrorClass represents whether an error should be recovered by reconnecting.
type ErrorClass int

const (
	// ErrorClassRetryable errors are recovered locally by reconnecting.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal errors propagate out of Listen.
	ErrorClassFatal
	// ErrorClassUnknown is returned for a nil error.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify decides whether a transport error is recovered by reconnecting.
//
// Fatal:
//   - handshake attempts exhausted
//   - context cancellation or deadline
//   - authentication rejected by the server
//
// Everything else (remote disconnect, socket idle, handshake timeout, other
// network errors) is retryable.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, ErrAttemptsExhausted) ||
		errors.Is(err, ErrAuthRejected) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassFatal
	}
	return ErrorClassRetryable
}

// reconnectReason is a short metric label for a retryable error.
func reconnectReason(err error) string {
	switch {
	case errors.Is(err, ErrRemoteDisconnect):
		return "remote_disconnect"
	case errors.Is(err, ErrSocketIdle):
		return "socket_idle"
	default:
		return "transport_error"
	}
}
