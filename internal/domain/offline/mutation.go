package offline

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestOptions are the parts of a write request needed to replay it
type RequestOptions struct {
	Method  string            `json:"method" validate:"required,oneof=POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// QueuedMutation is a write request that failed while offline. It is never
// modified after creation; a successful replay removes it.
type QueuedMutation struct {
	ID         uuid.UUID      `json:"id"`
	URL        string         `json:"url" validate:"required,url"`
	Request    RequestOptions `json:"request"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// NewQueuedMutation creates a mutation with a generated id and timestamp
func NewQueuedMutation(url string, opts RequestOptions, now time.Time) *QueuedMutation {
	return &QueuedMutation{
		ID:         uuid.New(),
		URL:        url,
		Request:    opts,
		EnqueuedAt: now,
	}
}

// IsIdempotentMethod reports whether requests with this method are safe to
// retry in place rather than being queued.
func IsIdempotentMethod(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// ProcessResult summarizes one pass over the mutation queue
type ProcessResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}
