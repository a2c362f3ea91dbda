package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/config"
)

// fakeS3 serves path-style object requests from memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		_, _ = w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestNewS3AttachmentStore_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3AttachmentStore(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration is required")

	_, err = NewS3AttachmentStore(ctx, &config.StorageConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")

	_, err = NewS3AttachmentStore(ctx, &config.StorageConfig{Bucket: "b", AccessKeyID: "only-id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be set together")

	store, err := NewS3AttachmentStore(ctx, &config.StorageConfig{
		Bucket:          "uploads",
		Endpoint:        "localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "uploads", store.Bucket())
}

func TestS3AttachmentStore_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	store, err := NewS3AttachmentStore(ctx, &config.StorageConfig{
		Bucket:          "uploads",
		Endpoint:        srv.URL,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Prefix:          "jobs/",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	data := []byte("\x89PNG fake image bytes")
	require.NoError(t, store.Put(ctx, "a1/photo.png", data, "image/png"))

	fake.mu.Lock()
	assert.Equal(t, data, fake.objects["uploads/jobs/a1/photo.png"])
	assert.Equal(t, "image/png", fake.types["uploads/jobs/a1/photo.png"])
	fake.mu.Unlock()

	got, err := store.Get(ctx, "a1/photo.png")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, store.Delete(ctx, "a1/photo.png"))
	_, err = store.Get(ctx, "a1/photo.png")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMemoryAttachmentStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAttachmentStore()

	require.Error(t, s.Put(ctx, "", []byte("x"), ""))

	buf := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", buf, "text/plain"))
	buf[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestNewObjectKey(t *testing.T) {
	k1 := NewObjectKey("dir/photo.png")
	k2 := NewObjectKey("dir/photo.png")
	assert.NotEqual(t, k1, k2)
	assert.True(t, strings.HasSuffix(k1, "/photo.png"))
	assert.True(t, strings.HasSuffix(NewObjectKey(""), "/attachment"))
}
