package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/interfaces/http/dto"
)

// MutationService is the offline mutation queue as seen by the control API
type MutationService interface {
	GetAll(ctx context.Context) ([]*offline.QueuedMutation, error)
	Remove(ctx context.Context, id uuid.UUID) error
	ProcessAll(ctx context.Context) (offline.ProcessResult, error)
}

// CacheService clears the response cache
type CacheService interface {
	ClearAll(ctx context.Context) error
}

// MutationHandler exposes the offline mutation queue and the response cache
type MutationHandler struct {
	BaseHandler
	mutations MutationService
	cache     CacheService
}

// NewMutationHandler creates a new MutationHandler
func NewMutationHandler(mutations MutationService, cache CacheService) *MutationHandler {
	return &MutationHandler{mutations: mutations, cache: cache}
}

// List returns queued mutations oldest first
func (h *MutationHandler) List(c *gin.Context) {
	items, err := h.mutations.GetAll(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]dto.MutationResponse, 0, len(items))
	for _, m := range items {
		out = append(out, dto.MutationResponse{
			ID:         m.ID.String(),
			Method:     m.Request.Method,
			URL:        m.URL,
			BodyBytes:  len(m.Request.Body),
			EnqueuedAt: m.EnqueuedAt.UTC().Format(time.RFC3339),
		})
	}
	h.Success(c, out)
}

// Flush replays every queued mutation once
func (h *MutationHandler) Flush(c *gin.Context) {
	result, err := h.mutations.ProcessAll(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Remove drops a queued mutation without replaying it
func (h *MutationHandler) Remove(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid mutation ID")
		return
	}
	if err := h.mutations.Remove(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// ClearCache empties the response cache
func (h *MutationHandler) ClearCache(c *gin.Context) {
	if err := h.cache.ClearAll(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// RegisterRoutes registers mutation queue and cache routes
func (h *MutationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	mutations := rg.Group("/mutations")
	{
		mutations.GET("", h.List)
		mutations.POST("/flush", h.Flush)
		mutations.DELETE("/:id", h.Remove)
	}
	rg.DELETE("/cache", h.ClearCache)
}
