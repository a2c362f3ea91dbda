package dto

import "net/http"

// Error code constants
// Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	ErrCodeInternal     = "ERR_INTERNAL"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeNotFound     = "ERR_NOT_FOUND"
	ErrCodeConflict     = "ERR_CONFLICT"
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	ErrCodeTooLarge     = "ERR_REQUEST_TOO_LARGE"
)

// Offline persistence error codes
const (
	ErrCodeOffline           = "ERR_OFFLINE"
	ErrCodeUpstreamTimeout   = "ERR_UPSTREAM_TIMEOUT"
	ErrCodeUpstreamMalformed = "ERR_UPSTREAM_MALFORMED"
	ErrCodeUpstreamRejected  = "ERR_UPSTREAM_REJECTED"
	ErrCodeUpstreamFailure   = "ERR_UPSTREAM_FAILURE"
	ErrCodeQuotaExceeded     = "ERR_QUOTA_EXCEEDED"
	ErrCodeSyncInProgress    = "ERR_SYNC_IN_PROGRESS"
	ErrCodeLeaseHeld         = "ERR_LEASE_HELD"
	ErrCodeQueuedOffline     = "ERR_QUEUED_OFFLINE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeInvalidState: http.StatusUnprocessableEntity,
	ErrCodeTooLarge:     http.StatusRequestEntityTooLarge,

	ErrCodeOffline:           http.StatusServiceUnavailable,
	ErrCodeUpstreamTimeout:   http.StatusGatewayTimeout,
	ErrCodeUpstreamMalformed: http.StatusBadGateway,
	ErrCodeUpstreamRejected:  http.StatusUnprocessableEntity,
	ErrCodeUpstreamFailure:   http.StatusBadGateway,
	ErrCodeQuotaExceeded:     http.StatusInsufficientStorage,
	ErrCodeSyncInProgress:    http.StatusConflict,
	ErrCodeLeaseHeld:         http.StatusConflict,
	ErrCodeQueuedOffline:     http.StatusAccepted,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":          ErrCodeNotFound,
	"INVALID_INPUT":      ErrCodeInvalidInput,
	"INVALID_STATE":      ErrCodeInvalidState,
	"UPLOAD_NOT_FAILED":  ErrCodeInvalidState,
	"CONNECTIVITY_LOST":  ErrCodeOffline,
	"TIMEOUT":            ErrCodeUpstreamTimeout,
	"MALFORMED_RESPONSE": ErrCodeUpstreamMalformed,
	"CLIENT_REJECTED":    ErrCodeUpstreamRejected,
	"SERVER_FAILURE":     ErrCodeUpstreamFailure,
	"QUOTA_EXCEEDED":     ErrCodeQuotaExceeded,
	"SYNC_IN_PROGRESS":   ErrCodeSyncInProgress,
	"LEASE_HELD":         ErrCodeLeaseHeld,
	"QUEUED_OFFLINE":     ErrCodeQueuedOffline,
	"INTERNAL_ERROR":     ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Unknown codes are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
