package dto

import "encoding/json"

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithRequestID creates an error response carrying the request id
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.Error.RequestID = requestID
	return resp
}

// UploadCreatedResponse is returned after a submission was queued
type UploadCreatedResponse struct {
	JobID int64 `json:"job_id"`
}

// UploadJobResponse describes a stored upload job
type UploadJobResponse struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	RetryCount  int    `json:"retry_count"`
	MaxRetries  int    `json:"max_retries"`
	LastError   string `json:"last_error,omitempty"`
	Fields      int    `json:"fields"`
	Attachments int    `json:"attachments"`
	Bytes       int64  `json:"bytes"`
	EnqueuedAt  string `json:"enqueued_at"`
	UpdatedAt   string `json:"updated_at"`
}

// RetryResponse reports how many failed uploads were re-queued
type RetryResponse struct {
	Requeued int `json:"requeued"`
}

// SyncResponse reports whether a sync ran
type SyncResponse struct {
	Synced bool `json:"synced"`
}

// MutationResponse describes a queued mutation
type MutationResponse struct {
	ID         string `json:"id"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	BodyBytes  int    `json:"body_bytes"`
	EnqueuedAt string `json:"enqueued_at"`
}

// ConnectivityResponse reports the connectivity state
type ConnectivityResponse struct {
	Online bool `json:"online"`
}

// HealthResponse is the health check answer
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Online   bool   `json:"online"`
}

// ProxyRequest asks the daemon to perform a commerce backend request on the
// caller's behalf. GETs with max_age_seconds are served from the cache when fresh.
type ProxyRequest struct {
	Method        string            `json:"method" binding:"omitempty,oneof=GET HEAD OPTIONS POST PUT PATCH DELETE"`
	Path          string            `json:"path" binding:"required,startswith=/"`
	Headers       map[string]string `json:"headers"`
	Body          json.RawMessage   `json:"body"`
	MaxAgeSeconds int               `json:"max_age_seconds" binding:"gte=0"`
}

// ProxyResponse carries the backend answer
type ProxyResponse struct {
	StatusCode int `json:"status_code"`
	Body       any `json:"body,omitempty"`
}

// QueuedResponse is returned when a write was deferred until connectivity returns
type QueuedResponse struct {
	Queued     bool   `json:"queued"`
	MutationID string `json:"mutation_id"`
}
