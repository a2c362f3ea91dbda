package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound     = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)

// Failure taxonomy for the offline persistence layer
var (
	// ErrConnectivityLost means the host is offline; the operation is deferred
	// to one of the durable queues instead of being retried locally.
	ErrConnectivityLost = NewDomainError("CONNECTIVITY_LOST", "Network connectivity lost")
	// ErrTimeout is returned when a request exceeds its deadline. Retryable.
	ErrTimeout = NewDomainError("TIMEOUT", "Request timed out")
	// ErrMalformedResponse means the server answered with something other
	// than the expected JSON document.
	ErrMalformedResponse = NewDomainError("MALFORMED_RESPONSE", "Malformed response from server")
	// ErrClientRejected covers 4xx responses other than 408 and 429. Never retried.
	ErrClientRejected = NewDomainError("CLIENT_REJECTED", "Request rejected by server")
	// ErrServerFailure covers 5xx, 408 and 429 responses. Retryable.
	ErrServerFailure = NewDomainError("SERVER_FAILURE", "Server failed to process request")
	// ErrQuotaExceeded is a storage write failure caused by capacity limits.
	ErrQuotaExceeded = NewDomainError("QUOTA_EXCEEDED", "Storage quota exceeded")

	ErrSyncInProgress  = NewDomainError("SYNC_IN_PROGRESS", "Reference data sync already in progress")
	ErrLeaseHeld       = NewDomainError("LEASE_HELD", "Lease is held by another owner")
	ErrQueuedOffline   = NewDomainError("QUEUED_OFFLINE", "Request queued for replay when connectivity returns")
	ErrUploadNotFailed = NewDomainError("UPLOAD_NOT_FAILED", "Only failed uploads can be removed")
)

// RequestError describes a non-success HTTP response from the commerce backend.
// It unwraps to the taxonomy error matching its status code.
type RequestError struct {
	StatusCode int
	Body       string
}

// NewRequestError creates a request error for the given status code
func NewRequestError(statusCode int, body string) *RequestError {
	return &RequestError{StatusCode: statusCode, Body: body}
}

// Error implements the error interface
func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps the status code onto the failure taxonomy
func (e *RequestError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests:
		return ErrServerFailure
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ErrClientRejected
	default:
		return ErrServerFailure
	}
}

// IsRetryable reports whether an operation that failed with err may succeed
// when attempted again. Client rejections and quota failures are final;
// connectivity, timeout, server and malformed-response failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrClientRejected), errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrInvalidInput):
		return false
	case errors.Is(err, ErrConnectivityLost),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrServerFailure),
		errors.Is(err, ErrMalformedResponse):
		return true
	}
	return false
}

// Code returns the domain error code carried by err, or "INTERNAL_ERROR"
func Code(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL_ERROR"
}
