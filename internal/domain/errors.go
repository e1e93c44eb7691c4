package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited signals that the analytics API kept answering 429 until
	// every retry attempt was spent.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrNetwork signals a transport-level failure that survived all retries.
	ErrNetwork = errors.New("network error")
	// ErrAPI signals a non-retryable analytics API failure (bad query shape,
	// auth failure, unknown endpoint).
	ErrAPI = errors.New("analytics api error")
	// ErrInvalidQuery signals a request the engine refuses to send upstream.
	ErrInvalidQuery = errors.New("invalid query")
)

// RateLimitError wraps ErrRateLimited with the last 429 response body for
// diagnostics.
type RateLimitError struct {
	Body string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: last response: %s", ErrRateLimited.Error(), e.Body)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// APIError wraps ErrAPI with the HTTP status and response body. Failures of
// this kind are never retried.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrAPI.Error(), e.Status, e.Body)
}

func (e *APIError) Unwrap() error { return ErrAPI }

// NetworkError wraps ErrNetwork with the underlying transport error.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", ErrNetwork.Error(), e.Err)
}

func (e *NetworkError) Unwrap() error { return ErrNetwork }
