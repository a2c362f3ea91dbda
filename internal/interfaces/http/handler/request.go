package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vendorhub/storefront/internal/infrastructure/commerce"
	"github.com/vendorhub/storefront/internal/interfaces/http/dto"
)

// RequestFetcher performs commerce backend requests with retries, caching
// and offline queueing
type RequestFetcher interface {
	URL(path string) string
	Fetch(ctx context.Context, req commerce.Request) (*commerce.Response, error)
	GetJSON(ctx context.Context, url string, maxAge time.Duration, dest any) error
}

// RequestHandler lets the host shell route backend calls through the daemon
type RequestHandler struct {
	BaseHandler
	fetcher RequestFetcher
}

// NewRequestHandler creates a new RequestHandler
func NewRequestHandler(fetcher RequestFetcher) *RequestHandler {
	return &RequestHandler{fetcher: fetcher}
}

// Proxy godoc
//
//	@Summary		Perform a backend request
//	@Description	Reads may be answered from the cache. Writes made while offline are queued and answered with 202.
//	@Tags			requests
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.ProxyRequest	true	"Request"
//	@Success		200		{object}	dto.Response{data=dto.ProxyResponse}
//	@Success		202		{object}	dto.Response{data=dto.QueuedResponse}
//	@Failure		503		{object}	dto.Response{error=dto.ErrorInfo}
//	@Router			/requests [post]
func (h *RequestHandler) Proxy(c *gin.Context) {
	var req dto.ProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if strings.Contains(req.Path, "://") {
		h.BadRequest(c, "path must be relative to the backend")
		return
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	url := h.fetcher.URL(req.Path)
	ctx := c.Request.Context()

	if method == http.MethodGet && req.MaxAgeSeconds > 0 && len(req.Body) == 0 {
		var body json.RawMessage
		if err := h.fetcher.GetJSON(ctx, url, time.Duration(req.MaxAgeSeconds)*time.Second, &body); err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, dto.ProxyResponse{StatusCode: http.StatusOK, Body: body})
		return
	}

	resp, err := h.fetcher.Fetch(ctx, commerce.Request{
		Method:  method,
		URL:     url,
		Headers: req.Headers,
		Body:    []byte(req.Body),
	})
	var queued *commerce.QueuedError
	if errors.As(err, &queued) {
		h.Accepted(c, dto.QueuedResponse{Queued: true, MutationID: queued.Mutation.ID.String()})
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ProxyResponse{StatusCode: resp.StatusCode, Body: responseBody(resp.Body)})
}

func responseBody(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}

// RegisterRoutes registers the request route
func (h *RequestHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/requests", h.Proxy)
}
