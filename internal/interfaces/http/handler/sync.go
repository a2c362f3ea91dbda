package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vendorhub/storefront/internal/application/refsync"
	"github.com/vendorhub/storefront/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

const progressBufferSize = 32

// SyncService is the reference data sync as seen by the control API
type SyncService interface {
	SyncAll(ctx context.Context, force bool) (bool, error)
	GetSyncStatus(ctx context.Context) (*refsync.SyncStatus, error)
	OnProgress(fn func(refsync.Progress)) func()
}

// SSEMessage is one server-sent event
type SSEMessage struct {
	Event string
	Data  string
	ID    string
}

// SyncHandler exposes reference data sync
type SyncHandler struct {
	BaseHandler
	sync      SyncService
	logger    *zap.Logger
	heartbeat time.Duration
}

// SyncHandlerOption configures a SyncHandler
type SyncHandlerOption func(*SyncHandler)

// WithSyncLogger sets the logger for the handler
func WithSyncLogger(logger *zap.Logger) SyncHandlerOption {
	return func(h *SyncHandler) {
		h.logger = logger
	}
}

// WithSSEHeartbeat sets the heartbeat interval of the progress stream
func WithSSEHeartbeat(interval time.Duration) SyncHandlerOption {
	return func(h *SyncHandler) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(sync SyncService, opts ...SyncHandlerOption) *SyncHandler {
	h := &SyncHandler{
		sync:      sync,
		logger:    zap.NewNop(),
		heartbeat: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Status returns freshness, counts and the last sync error
func (h *SyncHandler) Status(c *gin.Context) {
	status, err := h.sync.GetSyncStatus(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// Sync godoc
//
//	@Summary		Refresh reference data
//	@Description	Runs a sync unless the local data is fresh. force=true always syncs.
//	@Tags			sync
//	@Produce		json
//	@Param			force	query		bool	false	"Ignore freshness"
//	@Success		200		{object}	dto.Response{data=dto.SyncResponse}
//	@Failure		409		{object}	dto.Response{error=dto.ErrorInfo}
//	@Router			/sync [post]
func (h *SyncHandler) Sync(c *gin.Context) {
	force := false
	if raw := c.Query("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.BadRequest(c, "force must be a boolean")
			return
		}
		force = v
	}

	// a client hanging up must not abort a sync halfway through
	synced, err := h.sync.SyncAll(context.WithoutCancel(c.Request.Context()), force)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.SyncResponse{Synced: synced})
}

// Events streams sync progress as server-sent events until the client leaves
func (h *SyncHandler) Events(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// the server write timeout would otherwise cut the stream
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	ch := make(chan refsync.Progress, progressBufferSize)
	unsubscribe := h.sync.OnProgress(func(p refsync.Progress) {
		select {
		case ch <- p:
		default:
			h.logger.Warn("Progress stream full, dropping event", zap.String("stage", p.Stage))
		}
	})
	defer unsubscribe()

	h.sendEvent(c.Writer, SSEMessage{
		Event: "connected",
		Data:  fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix()),
	})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sendEvent(c.Writer, SSEMessage{
				Event: "heartbeat",
				Data:  fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix()),
			})
			c.Writer.Flush()
		case p := <-ch:
			data, err := json.Marshal(p)
			if err != nil {
				h.logger.Error("Failed to marshal progress event", zap.Error(err))
				continue
			}
			h.sendEvent(c.Writer, SSEMessage{
				Event: "progress",
				Data:  string(data),
				ID:    fmt.Sprintf("%s-%d", p.SyncID, p.Step),
			})
			c.Writer.Flush()
		}
	}
}

// sendEvent writes an SSE event to the response writer
func (h *SyncHandler) sendEvent(w io.Writer, msg SSEMessage) {
	if msg.Event != "" {
		fmt.Fprintf(w, "event: %s\n", msg.Event)
	}
	if msg.ID != "" {
		fmt.Fprintf(w, "id: %s\n", msg.ID)
	}
	fmt.Fprintf(w, "data: %s\n\n", msg.Data)
}

// RegisterRoutes registers all sync routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sync := rg.Group("/sync")
	{
		sync.POST("", h.Sync)
		sync.GET("/status", h.Status)
		sync.GET("/events", h.Events)
	}
}
