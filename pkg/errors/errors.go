// Package errors defines the sentinel errors shared across the index,
// search and ingestion layers and maps them onto HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrDataMisaligned = errors.New("data misaligned")
	ErrDataCorrupted  = errors.New("data corrupted")
	ErrSessionFailed  = errors.New("index session failed")
	ErrSessionClosed  = errors.New("index session closed")
	ErrUnavailable    = errors.New("service unavailable")
	ErrTimeout        = errors.New("operation timed out")
)

type class struct {
	sentinel error
	status   int
	code     string
}

// classes is checked in order; the first sentinel found in the chain wins.
// Storage corruption is a server fault and never reported as bad input.
var classes = []class{
	{ErrDataCorrupted, http.StatusInternalServerError, "data_corrupted"},
	{ErrDataMisaligned, http.StatusInternalServerError, "data_misaligned"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{ErrSessionClosed, http.StatusConflict, "session_closed"},
	{ErrSessionFailed, http.StatusInternalServerError, "session_failed"},
	{ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
	{ErrTimeout, http.StatusServiceUnavailable, "timeout"},
}

// AppError pins an explicit status code and client-facing message on a
// sentinel.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return e.Err.Error() + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return New(sentinel, statusCode, fmt.Sprintf(format, args...))
}

func classify(err error) (class, bool) {
	for _, c := range classes {
		if errors.Is(err, c.sentinel) {
			return c, true
		}
	}
	return class{}, false
}

// HTTPStatusCode maps an error chain onto the status code returned by the
// HTTP surfaces. An AppError's own status takes precedence.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	if c, ok := classify(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// Code is a stable machine-readable name for the error's class, "internal"
// when no sentinel is in the chain.
func Code(err error) string {
	if c, ok := classify(err); ok {
		return c.code
	}
	return "internal"
}
