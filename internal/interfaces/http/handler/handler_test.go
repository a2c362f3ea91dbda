package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/interfaces/http/dto"
)

// decodeData unmarshals the data member of a success envelope into dest
func decodeData(t *testing.T, body []byte, dest any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	require.True(t, env.Success, string(body))
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

func decodeError(t *testing.T, body []byte) dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(body, &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

func newEngine(registrars ...interface{ RegisterRoutes(*gin.RouterGroup) }) *gin.Engine {
	engine := gin.New()
	api := engine.Group("/api/v1")
	for _, r := range registrars {
		r.RegisterRoutes(api)
	}
	return engine
}

type receivedFile struct {
	key, name, mime string
	content         []byte
}

type fakeUploads struct {
	mu       sync.Mutex
	fields   map[string]string
	files    []receivedFile
	addErr   error
	failed   []*offline.UploadJob
	removed  []int64
	removeFn func(id int64) error
	requeued int
}

func (f *fakeUploads) AddUpload(_ context.Context, sub *offline.Submission) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return 0, f.addErr
	}
	f.fields = sub.Fields
	for _, file := range sub.Files {
		data, err := io.ReadAll(file.Reader)
		if err != nil {
			return 0, err
		}
		f.files = append(f.files, receivedFile{file.FieldKey, file.Filename, file.MimeType, data})
	}
	return 42, nil
}

func (f *fakeUploads) GetStatus(context.Context) (offline.UploadStatusSummary, error) {
	return offline.UploadStatusSummary{Pending: 2, Failed: 1, Total: 3}, nil
}

func (f *fakeUploads) GetFailedUploads(context.Context) ([]*offline.UploadJob, error) {
	return f.failed, nil
}

func (f *fakeUploads) RetryFailedUploads(context.Context) (int, error) {
	return f.requeued, nil
}

func (f *fakeUploads) RemoveUpload(_ context.Context, id int64) error {
	if f.removeFn != nil {
		if err := f.removeFn(id); err != nil {
			return err
		}
	}
	f.removed = append(f.removed, id)
	return nil
}

func multipartBody(t *testing.T) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("title", "Red shirt"))
	require.NoError(t, w.WriteField("price", "12.50"))
	part, err := w.CreateFormFile("images", "front.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return w.FormDataContentType(), &buf
}

func TestUploadHandler_Create(t *testing.T) {
	t.Run("queues a multipart submission", func(t *testing.T) {
		uploads := &fakeUploads{}
		engine := newEngine(NewUploadHandler(uploads))

		ct, body := multipartBody(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var created dto.UploadCreatedResponse
		decodeData(t, w.Body.Bytes(), &created)
		assert.Equal(t, int64(42), created.JobID)

		assert.Equal(t, map[string]string{"title": "Red shirt", "price": "12.50"}, uploads.fields)
		require.Len(t, uploads.files, 1)
		assert.Equal(t, "images", uploads.files[0].key)
		assert.Equal(t, "front.jpg", uploads.files[0].name)
		assert.Equal(t, []byte("jpeg-bytes"), uploads.files[0].content)
	})

	t.Run("rejects a non multipart body", func(t *testing.T) {
		engine := newEngine(NewUploadHandler(&fakeUploads{}))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("maps quota failures", func(t *testing.T) {
		engine := newEngine(NewUploadHandler(&fakeUploads{addErr: shared.ErrQuotaExceeded}))

		ct, body := multipartBody(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInsufficientStorage, w.Code)
		assert.Equal(t, dto.ErrCodeQuotaExceeded, decodeError(t, w.Body.Bytes()).Code)
	})
}

func TestUploadHandler_StatusAndFailed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := offline.NewUploadJob(offline.SerializedPayload{
		ScalarFields: map[string]string{"title": "x"},
		Attachments:  []offline.Attachment{{FieldKey: "images", Filename: "a.jpg", ByteSize: 10}},
	}, now)
	job.ID = 7
	job.Status = offline.UploadStatusFailed
	job.RetryCount = 3
	job.LastError = "HTTP 500"

	engine := newEngine(NewUploadHandler(&fakeUploads{failed: []*offline.UploadJob{job}, requeued: 1}))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/uploads/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var summary offline.UploadStatusSummary
	decodeData(t, w.Body.Bytes(), &summary)
	assert.Equal(t, int64(3), summary.Total)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/uploads/failed", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var failed []dto.UploadJobResponse
	decodeData(t, w.Body.Bytes(), &failed)
	require.Len(t, failed, 1)
	assert.Equal(t, int64(7), failed[0].ID)
	assert.Equal(t, "FAILED", failed[0].Status)
	assert.Equal(t, 1, failed[0].Attachments)
	assert.Equal(t, int64(10), failed[0].Bytes)
	assert.Equal(t, "2026-03-01T12:00:00Z", failed[0].EnqueuedAt)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/uploads/retry", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var retry dto.RetryResponse
	decodeData(t, w.Body.Bytes(), &retry)
	assert.Equal(t, 1, retry.Requeued)
}

func TestUploadHandler_Remove(t *testing.T) {
	uploads := &fakeUploads{removeFn: func(id int64) error {
		if id == 9 {
			return shared.ErrUploadNotFailed
		}
		return nil
	}}
	engine := newEngine(NewUploadHandler(uploads))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/3", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []int64{3}, uploads.removed)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/9", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidState, decodeError(t, w.Body.Bytes()).Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeMutations struct {
	items   []*offline.QueuedMutation
	removed []uuid.UUID
	flushes int
	cleared int
}

func (f *fakeMutations) GetAll(context.Context) ([]*offline.QueuedMutation, error) {
	return f.items, nil
}

func (f *fakeMutations) Remove(_ context.Context, id uuid.UUID) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeMutations) ProcessAll(context.Context) (offline.ProcessResult, error) {
	f.flushes++
	if f.flushes > 1 {
		return offline.ProcessResult{}, shared.ErrConnectivityLost
	}
	return offline.ProcessResult{Attempted: len(f.items), Succeeded: len(f.items)}, nil
}

func (f *fakeMutations) ClearAll(context.Context) error {
	f.cleared++
	return nil
}

func TestMutationHandler(t *testing.T) {
	m := offline.NewQueuedMutation("https://shop.example.com/wp-json/wc/v3/products", offline.RequestOptions{
		Method: http.MethodPost,
		Body:   []byte(`{"name":"x"}`),
	}, time.Now())
	fake := &fakeMutations{items: []*offline.QueuedMutation{m}}
	engine := newEngine(NewMutationHandler(fake, fake))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mutations", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []dto.MutationResponse
	decodeData(t, w.Body.Bytes(), &list)
	require.Len(t, list, 1)
	assert.Equal(t, m.ID.String(), list[0].ID)
	assert.Equal(t, http.MethodPost, list[0].Method)
	assert.Equal(t, 12, list[0].BodyBytes)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/mutations/flush", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var result offline.ProcessResult
	decodeData(t, w.Body.Bytes(), &result)
	assert.Equal(t, 1, result.Succeeded)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/mutations/flush", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/mutations/"+m.ID.String(), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []uuid.UUID{m.ID}, fake.removed)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/mutations/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, fake.cleared)
}

type fakeSignals struct {
	online  bool
	visible int
}

func (f *fakeSignals) IsOnline() bool { return f.online }
func (f *fakeSignals) SetOnline()     { f.online = true }
func (f *fakeSignals) SetOffline()    { f.online = false }
func (f *fakeSignals) SignalVisible() { f.visible++ }

func TestSignalHandler(t *testing.T) {
	sink := &fakeSignals{online: true}
	engine := newEngine(NewSignalHandler(sink))

	post := func(path string) dto.ConnectivityResponse {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/signals/"+path, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.ConnectivityResponse
		decodeData(t, w.Body.Bytes(), &resp)
		return resp
	}

	assert.False(t, post("offline").Online)
	assert.True(t, post("online").Online)
	assert.True(t, post("visible").Online)
	assert.Equal(t, 1, sink.visible)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestSystemHandler_Health(t *testing.T) {
	t.Run("healthy while offline", func(t *testing.T) {
		h := NewSystemHandler(fakePinger{}, &fakeSignals{online: false}, "storefrontd", "test")
		engine := gin.New()
		engine.GET("/health", h.Health)

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.HealthResponse
		decodeData(t, w.Body.Bytes(), &resp)
		assert.Equal(t, "healthy", resp.Status)
		assert.False(t, resp.Online)
	})

	t.Run("unhealthy when the database is gone", func(t *testing.T) {
		h := NewSystemHandler(fakePinger{err: assert.AnError}, nil, "storefrontd", "test")
		engine := gin.New()
		engine.GET("/health", h.Health)

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("system info", func(t *testing.T) {
		engine := newEngine(NewSystemHandler(fakePinger{}, nil, "storefrontd", "1.2.3"))

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/system/info", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var info SystemInfoResponse
		decodeData(t, w.Body.Bytes(), &info)
		assert.Equal(t, "1.2.3", info.Version)
	})
}
