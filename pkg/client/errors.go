package client

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the client's error taxonomy. Every error
// returned by an operation wraps exactly one of these, so callers can
// branch with errors.Is.
var (
	// ErrValidation is returned for bad caller input before any
	// network request is made.
	ErrValidation = errors.New("invalid request parameters")

	// ErrAuthentication is returned when the token endpoint could not
	// produce a usable token after exhausting retries.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRequestFailed is returned when a data request failed after
	// exhausting retries. The wrapping APIError carries the last
	// observed status and cause.
	ErrRequestFailed = errors.New("request failed")

	// ErrMalformedResponse is returned when the upstream body is not
	// valid JSON. Not retried.
	ErrMalformedResponse = errors.New("malformed response payload")

	// ErrUnsupportedMethod is returned for HTTP methods other than
	// GET and POST.
	ErrUnsupportedMethod = errors.New("unsupported HTTP method")

	// ErrContextCancelled is returned when the context is cancelled
	// while waiting between retry attempts.
	ErrContextCancelled = errors.New("context cancelled")
)

// errStaleToken marks a 401/403 on a request that carried a cached
// bearer token. The retry loop refreshes the token exactly once per
// call when it sees this, without consuming a retry attempt.
var errStaleToken = errors.New("bearer token rejected")

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents non-retryable 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents retryable 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassAuth represents 401/403 responses.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassNetwork represents network and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// classifyStatus maps an HTTP status code to an error class. A zero
// status means the request never produced a response.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 0:
		return ErrorClassNetwork
	case status == 401 || status == 403:
		return ErrorClassAuth
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// APIError is the error type returned by client operations. It wraps
// one of the taxonomy sentinels in Kind and the underlying cause, if
// any, in Err.
type APIError struct {
	Kind       error
	StatusCode int
	Attempts   int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("%v", e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap exposes both the taxonomy sentinel and the cause to
// errors.Is and errors.As.
func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// retryableError marks an error as safe to retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// markRetryable wraps err so the retry loop will attempt it again.
func markRetryable(err error) error {
	return &retryableError{err: err}
}

// isRetryable reports whether err was marked retryable.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
