package client

import (
	"errors"
	"fmt"
)

// Error taxonomy returned by the client. Use errors.Is to match a class.
var (
	// ErrConnection is returned when the transport could not reach the remote host.
	ErrConnection = errors.New("connection error")

	// ErrTimeout is returned for HTTP 408 responses.
	ErrTimeout = errors.New("request timeout")

	// ErrRateLimit is returned for HTTP 429 responses.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrUnauthorized is returned for HTTP 401 responses.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned for HTTP 404 responses.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned for HTTP 503 responses.
	ErrUnavailable = errors.New("service unavailable")

	// ErrResponse is returned for malformed payloads and unclassified non-2xx statuses.
	ErrResponse = errors.New("unexpected response")

	// ErrEmptyResponse marks an attempt whose body was blank.
	ErrEmptyResponse = errors.New("empty response body")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidArgument is returned when a caller passes an unusable value.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("client closed")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	ErrorClassConnection   ErrorClass = "connection"
	ErrorClassEmpty        ErrorClass = "empty"
	ErrorClassTimeout      ErrorClass = "timeout"
	ErrorClassRateLimit    ErrorClass = "rate_limit"
	ErrorClassUnauthorized ErrorClass = "unauthorized"
	ErrorClassNotFound     ErrorClass = "not_found"
	ErrorClassUnavailable  ErrorClass = "unavailable"
	ErrorClassServer       ErrorClass = "server"
	ErrorClassClient       ErrorClass = "client"
	ErrorClassCancelled    ErrorClass = "cancelled"
	ErrorClassUnknown      ErrorClass = "unknown"
)

// ResponseError carries the status of a failed HTTP response.
type ResponseError struct {
	StatusCode int
	Class      ErrorClass
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("http %d (%s) for %s: %v", e.StatusCode, e.Class, e.URL, e.Err)
}

// Unwrap returns the taxonomy sentinel, so errors.Is(err, ErrNotFound) works.
func (e *ResponseError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is returned after the final failed attempt.
// It matches ErrRetryExhausted and unwraps to the last attempt's cause.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrRetryExhausted, e.Attempts, e.Last)
}

// Is reports whether target is ErrRetryExhausted.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// Unwrap returns the last attempt's error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// statusError maps an HTTP status to the taxonomy. 2xx and 3xx map to nil.
func statusError(status int, url string) error {
	if status < 400 {
		return nil
	}
	class := classifyStatus(status)
	var sentinel error
	switch status {
	case 404:
		sentinel = ErrNotFound
	case 503:
		sentinel = ErrUnavailable
	case 408:
		sentinel = ErrTimeout
	case 401:
		sentinel = ErrUnauthorized
	case 429:
		sentinel = ErrRateLimit
	default:
		sentinel = ErrResponse
	}
	return &ResponseError{StatusCode: status, Class: class, URL: url, Err: sentinel}
}

func classifyStatus(status int) ErrorClass {
	switch {
	case status == 404:
		return ErrorClassNotFound
	case status == 503:
		return ErrorClassUnavailable
	case status == 408:
		return ErrorClassTimeout
	case status == 401:
		return ErrorClassUnauthorized
	case status == 429:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// Classify returns the class of an error produced by the client.
func Classify(err error) ErrorClass {
	var respErr *ResponseError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &respErr):
		return respErr.Class
	case errors.Is(err, ErrConnection):
		return ErrorClassConnection
	case errors.Is(err, ErrEmptyResponse):
		return ErrorClassEmpty
	case errors.Is(err, ErrContextCancelled):
		return ErrorClassCancelled
	default:
		return ErrorClassUnknown
	}
}

// shouldRetry determines if an error class is transient.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassConnection, ErrorClassEmpty, ErrorClassTimeout,
		ErrorClassRateLimit, ErrorClassUnavailable, ErrorClassServer:
		return true
	default:
		// 401, 404 and other 4xx never succeed on retry
		return false
	}
}
