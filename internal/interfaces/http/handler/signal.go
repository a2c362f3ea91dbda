package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/vendorhub/storefront/internal/interfaces/http/dto"
)

// SignalSink receives host environment signals
type SignalSink interface {
	IsOnline() bool
	SetOnline()
	SetOffline()
	SignalVisible()
}

// SignalHandler lets the host shell report connectivity and visibility changes
type SignalHandler struct {
	BaseHandler
	sink SignalSink
}

// NewSignalHandler creates a new SignalHandler
func NewSignalHandler(sink SignalSink) *SignalHandler {
	return &SignalHandler{sink: sink}
}

func (h *SignalHandler) Online(c *gin.Context) {
	h.sink.SetOnline()
	h.Success(c, dto.ConnectivityResponse{Online: h.sink.IsOnline()})
}

func (h *SignalHandler) Offline(c *gin.Context) {
	h.sink.SetOffline()
	h.Success(c, dto.ConnectivityResponse{Online: h.sink.IsOnline()})
}

func (h *SignalHandler) Visible(c *gin.Context) {
	h.sink.SignalVisible()
	h.Success(c, dto.ConnectivityResponse{Online: h.sink.IsOnline()})
}

// RegisterRoutes registers all signal routes
func (h *SignalHandler) RegisterRoutes(rg *gin.RouterGroup) {
	signals := rg.Group("/signals")
	{
		signals.POST("/online", h.Online)
		signals.POST("/offline", h.Offline)
		signals.POST("/visible", h.Visible)
	}
}
