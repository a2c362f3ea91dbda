package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/interfaces/http/dto"
)

// defaultMaxUploadMemory is the part of a multipart form kept in memory;
// larger attachments are buffered to temp files by net/http.
const defaultMaxUploadMemory = 32 << 20

// UploadService is the upload queue as seen by the control API
type UploadService interface {
	AddUpload(ctx context.Context, sub *offline.Submission) (int64, error)
	GetStatus(ctx context.Context) (offline.UploadStatusSummary, error)
	GetFailedUploads(ctx context.Context) ([]*offline.UploadJob, error)
	RetryFailedUploads(ctx context.Context) (int, error)
	RemoveUpload(ctx context.Context, id int64) error
}

// UploadHandler exposes the durable upload queue
type UploadHandler struct {
	BaseHandler
	uploads   UploadService
	maxMemory int64
}

// NewUploadHandler creates a new UploadHandler
func NewUploadHandler(uploads UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads, maxMemory: defaultMaxUploadMemory}
}

// Create godoc
//
//	@Summary		Queue a product submission
//	@Description	Stores a multipart submission durably and schedules delivery
//	@Tags			uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Success		201	{object}	dto.Response{data=dto.UploadCreatedResponse}
//	@Failure		400	{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		507	{object}	dto.Response{error=dto.ErrorInfo}
//	@Router			/uploads [post]
func (h *UploadHandler) Create(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(h.maxMemory); err != nil {
		h.BadRequest(c, "multipart form expected: "+err.Error())
		return
	}
	defer func() {
		_ = c.Request.MultipartForm.RemoveAll()
	}()

	sub, err := offline.SubmissionFromMultipartForm(c.Request.MultipartForm)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	defer func() {
		_ = sub.Close()
	}()

	id, err := h.uploads.AddUpload(c.Request.Context(), sub)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.UploadCreatedResponse{JobID: id})
}

// Status returns the queue summary
func (h *UploadHandler) Status(c *gin.Context) {
	summary, err := h.uploads.GetStatus(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// Failed lists uploads that exhausted their retries
func (h *UploadHandler) Failed(c *gin.Context) {
	jobs, err := h.uploads.GetFailedUploads(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]dto.UploadJobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toUploadJobResponse(j))
	}
	h.Success(c, out)
}

// Retry moves every failed upload back to pending
func (h *UploadHandler) Retry(c *gin.Context) {
	n, err := h.uploads.RetryFailedUploads(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.RetryResponse{Requeued: n})
}

// Remove discards a failed upload
func (h *UploadHandler) Remove(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.BadRequest(c, "Invalid upload ID")
		return
	}
	if err := h.uploads.RemoveUpload(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// RegisterRoutes registers all upload routes
func (h *UploadHandler) RegisterRoutes(rg *gin.RouterGroup) {
	uploads := rg.Group("/uploads")
	{
		uploads.POST("", h.Create)
		uploads.GET("/status", h.Status)
		uploads.GET("/failed", h.Failed)
		uploads.POST("/retry", h.Retry)
		uploads.DELETE("/:id", h.Remove)
	}
}

func toUploadJobResponse(j *offline.UploadJob) dto.UploadJobResponse {
	return dto.UploadJobResponse{
		ID:          j.ID,
		Status:      string(j.Status),
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		LastError:   j.LastError,
		Fields:      len(j.Payload.ScalarFields),
		Attachments: len(j.Payload.Attachments),
		Bytes:       j.Payload.TotalBytes(),
		EnqueuedAt:  j.EnqueuedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
