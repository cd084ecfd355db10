package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error carried across the relay. Every failure a
// caller can observe resolves to one of these.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`

	// Upstream carries the gateway's error payload verbatim when the
	// failure originated on a matched response.
	Upstream any `json:"upstream,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotConnected   ErrorType = "not_connected_error"
	ErrTimeout        ErrorType = "timeout_error"
	ErrUpstream       ErrorType = "upstream_error"
	ErrTransport      ErrorType = "transport_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrDecode         ErrorType = "decode_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewNotConnectedError creates a not connected error. Calls issued while the
// gateway connection is down fail fast with one of these; nothing is queued.
func NewNotConnectedError(message string) *Error {
	return &Error{
		Type:    ErrNotConnected,
		Message: message,
	}
}

// NewTimeoutError creates a request timeout error.
func NewTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrTimeout,
		Message: message,
	}
}

// NewUpstreamError creates an error from an explicit gateway error payload.
func NewUpstreamError(message, code string, payload any) *Error {
	return &Error{
		Type:     ErrUpstream,
		Message:  message,
		Code:     code,
		Upstream: payload,
	}
}

// NewTransportError creates a socket-level error. These drive the reconnect
// loop and are never surfaced to callers directly.
func NewTransportError(message string) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
	}
}

// NewAuthenticationError creates a handshake rejection error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewDecodeError creates an error for a frame that failed tagged decode.
func NewDecodeError(message string) *Error {
	return &Error{
		Type:    ErrDecode,
		Message: message,
	}
}

// IsType reports whether err is a relay *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Type == t
	}
	return false
}

// IsNotConnected reports whether err is a fail-fast not-connected error.
func IsNotConnected(err error) bool { return IsType(err, ErrNotConnected) }

// IsTimeout reports whether err is a request deadline expiry.
func IsTimeout(err error) bool { return IsType(err, ErrTimeout) }
