package commerce

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendorhub/storefront/internal/domain/reference"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/config"
)

func testCommerceConfig(baseURL string) config.CommerceConfig {
	return config.CommerceConfig{
		BaseURL:          baseURL,
		ResourcePath:     "/static/%s.json",
		SubmitPath:       "/api/products",
		SessionCookie:    "session=abc",
		RequestTimeout:   time.Second,
		MaxResponseBytes: 1 << 20,
		RetryAttempts:    3,
		RetryBaseDelay:   10 * time.Millisecond,
		RetryMaxDelay:    50 * time.Millisecond,
	}
}

func TestClient_FetchResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session=abc", r.Header.Get("Cookie"))
		switch r.URL.Path {
		case "/static/categories.json":
			_, _ = io.WriteString(w, `[{"id":1,"name":"Clothing","slug":"clothing","parent":0}]`)
		case "/static/brands.json":
			_, _ = io.WriteString(w, `{"brands":[{"id":7,"name":"Acme","slug":"acme"}]}`)
		case "/static/locations.json":
			_, _ = io.WriteString(w, `<html>oops</html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(testCommerceConfig(srv.URL))
	ctx := context.Background()

	cats, err := c.FetchResource(ctx, reference.CollectionCategories)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Clothing", cats[0].Name)

	brands, err := c.FetchResource(ctx, reference.CollectionBrands)
	require.NoError(t, err)
	require.Len(t, brands, 1)
	assert.Equal(t, int64(7), brands[0].ID)

	_, err = c.FetchResource(ctx, reference.CollectionLocations)
	assert.ErrorIs(t, err, shared.ErrMalformedResponse)

	_, err = c.FetchResource(ctx, reference.CollectionAttributes)
	assert.ErrorIs(t, err, shared.ErrClientRejected)
	assert.False(t, shared.IsRetryable(err))
}

func TestClient_Submit(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantID  string
		wantErr error
	}{
		{name: "numeric id", status: http.StatusCreated, body: `{"id":42}`, wantID: "42"},
		{name: "string id", status: http.StatusOK, body: `{"id":"p-9"}`, wantID: "p-9"},
		{name: "missing id", status: http.StatusOK, body: `{"ok":true}`, wantErr: shared.ErrMalformedResponse},
		{name: "not json", status: http.StatusOK, body: `done`, wantErr: shared.ErrMalformedResponse},
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`, wantErr: shared.ErrServerFailure},
		{name: "rate limited", status: http.StatusTooManyRequests, body: ``, wantErr: shared.ErrServerFailure},
		{name: "rejected", status: http.StatusUnprocessableEntity, body: `{"error":"name"}`, wantErr: shared.ErrClientRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/products", r.URL.Path)
				assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(testCommerceConfig(srv.URL))
			res, err := c.Submit(context.Background(), "multipart/form-data; boundary=x", strings.NewReader("--x--"))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, res.ID)
		})
	}
}

func TestClient_TransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(testCommerceConfig(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Do(ctx, http.MethodGet, srv.URL, nil, nil)
	assert.ErrorIs(t, err, shared.ErrTimeout)
	assert.True(t, shared.IsRetryable(err))

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = c.Do(context.Background(), http.MethodGet, closed.URL, nil, nil)
	assert.ErrorIs(t, err, shared.ErrConnectivityLost)
}

func TestClient_ResponseLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 64))
	}))
	defer srv.Close()

	cfg := testCommerceConfig(srv.URL)
	cfg.MaxResponseBytes = 16
	_, err := NewClient(cfg).Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	assert.ErrorIs(t, err, shared.ErrMalformedResponse)
}
