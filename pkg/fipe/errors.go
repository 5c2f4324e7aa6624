package fipe

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass classifies a failed catalog call. The class decides whether
// the call is retried and whether the failure is node-local or run-aborting.
type ErrorClass string

const (
	// ClassUnauthorized covers 401/403. Never retried; aborts the run.
	ClassUnauthorized ErrorClass = "unauthorized"

	// ClassNotFound covers 404 on the singular price endpoint. Node-local.
	ClassNotFound ErrorClass = "not_found"

	// ClassDecode covers malformed response bodies. Node-local, not retried.
	ClassDecode ErrorClass = "decode"

	// ClassRateLimited covers 429. Retried with backoff.
	ClassRateLimited ErrorClass = "rate_limited"

	// ClassServer covers 5xx. Retried with backoff.
	ClassServer ErrorClass = "server"

	// ClassTimeout covers 408 and request timeouts. Retried with backoff.
	ClassTimeout ErrorClass = "timeout"

	// ClassNetwork covers transport-level failures. Retried with backoff.
	ClassNetwork ErrorClass = "network"
)

// APIError is a classified catalog call failure.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fipe %s error (status %d) on %s: %s: %v",
			e.Class, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("fipe %s error (status %d) on %s: %s",
		e.Class, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 401 || status == 403:
		return ClassUnauthorized
	case status == 404:
		return ClassNotFound
	case status == 429:
		return ClassRateLimited
	case status == 408:
		return ClassTimeout
	case status >= 500:
		return ClassServer
	default:
		// Remaining 4xx: treat as non-retryable client failures.
		return ClassNotFound
	}
}

// retryable reports whether a failure class is worth re-attempting.
func retryable(class ErrorClass) bool {
	switch class {
	case ClassRateLimited, ClassServer, ClassTimeout, ClassNetwork:
		return true
	default:
		return false
	}
}

// Retryable reports whether err is a transient catalog failure.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryable(apiErr.Class)
	}
	return false
}

// ClassOf returns the error class of a classified failure, or "" when
// err carries no classification.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ""
}

// IsUnauthorized reports whether err is a credential failure. Every
// subsequent call would fail identically, so callers abort the run.
func IsUnauthorized(err error) bool {
	return ClassOf(err) == ClassUnauthorized
}

// IsNotFound reports whether err is a missing-node failure.
func IsNotFound(err error) bool {
	return ClassOf(err) == ClassNotFound
}
