package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vendorhub/storefront/internal/domain/reference"
)

// ReferenceReader reads the local reference data mirror
type ReferenceReader interface {
	GetCollection(ctx context.Context, c reference.Collection) ([]reference.Entity, error)
	GetTree(ctx context.Context, kind reference.TreeKind) ([]reference.TreeNode, error)
	GetAttributesForCategory(ctx context.Context, categoryID int64) ([]reference.Attribute, error)
}

// ReferenceHandler serves synced reference data without touching the network
type ReferenceHandler struct {
	BaseHandler
	store ReferenceReader
}

// NewReferenceHandler creates a new ReferenceHandler
func NewReferenceHandler(store ReferenceReader) *ReferenceHandler {
	return &ReferenceHandler{store: store}
}

// Collection returns every entity of one collection
func (h *ReferenceHandler) Collection(c *gin.Context) {
	name, err := reference.ParseCollection(c.Param("collection"))
	if err != nil {
		h.NotFound(c, err.Error())
		return
	}
	items, err := h.store.GetCollection(c.Request.Context(), name)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if items == nil {
		items = []reference.Entity{}
	}
	h.Success(c, items)
}

// Tree returns a derived category or location tree
func (h *ReferenceHandler) Tree(c *gin.Context) {
	kind, err := reference.ParseTreeKind(c.Param("kind"))
	if err != nil {
		h.NotFound(c, err.Error())
		return
	}
	nodes, err := h.store.GetTree(c.Request.Context(), kind)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, nodes)
}

// CategoryAttributes returns the attributes mapped to a category
func (h *ReferenceHandler) CategoryAttributes(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.BadRequest(c, "Invalid category ID")
		return
	}
	attrs, err := h.store.GetAttributesForCategory(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, attrs)
}

// RegisterRoutes registers all reference data routes
func (h *ReferenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	ref := rg.Group("/reference")
	{
		ref.GET("/collections/:collection", h.Collection)
		ref.GET("/trees/:kind", h.Tree)
		ref.GET("/categories/:id/attributes", h.CategoryAttributes)
	}
}
