package stream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies transport failures.
type ErrorCode int

const (
	// ErrCodeRequest means the request could not be built (payload encoding, bad URL).
	ErrCodeRequest ErrorCode = iota
	// ErrCodeConnection means the request never got a response.
	ErrCodeConnection
	// ErrCodeStatus means the server answered with a non-2xx status.
	ErrCodeStatus
	// ErrCodeRead means the body failed while streaming.
	ErrCodeRead
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeRequest:
		return "request"
	case ErrCodeConnection:
		return "connection"
	case ErrCodeStatus:
		return "status"
	case ErrCodeRead:
		return "read"
	default:
		return "unknown"
	}
}

// Error is the error passed to Handlers.OnError.
type Error struct {
	// StatusCode is the HTTP status (0 unless Code is ErrCodeStatus).
	StatusCode int
	Code       ErrorCode
	Message    string
	// Body holds at most maxErrorBody bytes of a failed response.
	Body []byte
	Err  error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("stream: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("stream: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newRequestError(err error) *Error {
	return &Error{Code: ErrCodeRequest, Message: err.Error(), Err: err}
}

func newConnectionError(err error) *Error {
	return &Error{Code: ErrCodeConnection, Message: err.Error(), Err: err}
}

func newReadError(err error) *Error {
	return &Error{Code: ErrCodeRead, Message: err.Error(), Err: err}
}

func newStatusError(status int, body []byte) *Error {
	msg := fmt.Sprintf("HTTP error! status: %d", status)
	if text := http.StatusText(status); text != "" {
		msg += " " + text
	}
	return &Error{
		StatusCode: status,
		Code:       ErrCodeStatus,
		Message:    msg,
		Body:       body,
	}
}

// IsStatus reports whether err is a non-2xx response error.
func IsStatus(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeStatus
}

// IsConnection reports whether err is a connection failure.
func IsConnection(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeConnection
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
