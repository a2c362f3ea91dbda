package shared

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestError_Unwrap(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrClientRejected},
		{http.StatusNotFound, ErrClientRejected},
		{http.StatusUnprocessableEntity, ErrClientRejected},
		{http.StatusRequestTimeout, ErrServerFailure},
		{http.StatusTooManyRequests, ErrServerFailure},
		{http.StatusInternalServerError, ErrServerFailure},
		{http.StatusServiceUnavailable, ErrServerFailure},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := NewRequestError(tt.status, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRequestError_Error(t *testing.T) {
	assert.Equal(t, "HTTP 502", NewRequestError(502, "").Error())
	assert.Equal(t, "HTTP 400: bad sku", NewRequestError(400, "bad sku").Error())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(context.Canceled))

	assert.True(t, IsRetryable(ErrConnectivityLost))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrMalformedResponse))
	assert.True(t, IsRetryable(NewRequestError(503, "")))
	assert.True(t, IsRetryable(NewRequestError(429, "")))
	assert.True(t, IsRetryable(fmt.Errorf("upload: %w", ErrServerFailure)))

	assert.False(t, IsRetryable(NewRequestError(404, "")))
	assert.False(t, IsRetryable(ErrQuotaExceeded))
	assert.False(t, IsRetryable(fmt.Errorf("decode: %w", ErrInvalidInput)))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "SYNC_IN_PROGRESS", Code(ErrSyncInProgress))
	assert.Equal(t, "CLIENT_REJECTED", Code(NewRequestError(409, "")))
	assert.Equal(t, "LEASE_HELD", Code(fmt.Errorf("acquire: %w", ErrLeaseHeld)))
	assert.Equal(t, "INTERNAL_ERROR", Code(errors.New("boom")))
}
