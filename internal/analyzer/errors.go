package analyzer

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error kinds reported by KindOf
const (
	KindNetwork        = "network"
	KindTimeout        = "timeout"
	KindServer         = "server"
	KindInvalidPayload = "invalid_payload"
	KindUnknown        = "unknown"
)

// NetworkError is returned when the request could not be sent or no response
// was received
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "network error"
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether a caller-side retry makes sense
func (e *NetworkError) Retryable() bool { return true }

// TimeoutError is returned when no response arrived within the client budget.
// The in-flight request has been cancelled by the time it is returned.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timeout after %v", e.Timeout)
}

func (e *TimeoutError) Retryable() bool { return true }

// ServerError is returned for responses outside the 2xx range
type ServerError struct {
	StatusCode int
	Message    string // response body, or a status description when the body is empty
}

func (e *ServerError) Error() string {
	return e.Message
}

func (e *ServerError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// InvalidPayloadError is returned when the response body does not match the
// analysis shape, including bodies that are not JSON at all
type InvalidPayloadError struct {
	Err error
}

func (e *InvalidPayloadError) Error() string {
	if e.Err == nil {
		return "invalid payload"
	}
	return e.Err.Error()
}

func (e *InvalidPayloadError) Unwrap() error { return e.Err }

func (e *InvalidPayloadError) Retryable() bool { return false }

// KindOf maps a client error to its stable kind string
func KindOf(err error) string {
	var (
		netErr     *NetworkError
		timeoutErr *TimeoutError
		serverErr  *ServerError
		payloadErr *InvalidPayloadError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &serverErr):
		return KindServer
	case errors.As(err, &payloadErr):
		return KindInvalidPayload
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindUnknown
	}
}
