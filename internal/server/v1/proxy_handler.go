package v1

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/bot-router/internal/gateway"
	"github.com/nulzo/bot-router/internal/server/middleware"
	"github.com/nulzo/bot-router/pkg/api"
)

// DefaultMaxBodyBytes caps inbound proxy bodies.
const DefaultMaxBodyBytes = 10 << 20

type ProxyHandler struct {
	service      gateway.Service
	maxBodyBytes int64
}

func NewProxyHandler(service gateway.Service, maxBodyBytes int64) *ProxyHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &ProxyHandler{service: service, maxBodyBytes: maxBodyBytes}
}

// Static forwards to the vendor named in the path.
//
// ANY /proxy/:vendor/*path
func (h *ProxyHandler) Static(c *gin.Context) {
	h.proxy(c, c.Param("vendor"))
}

// Routed lets the routing engine pick vendor and model.
//
// ANY /v1/*path
func (h *ProxyHandler) Routed(c *gin.Context) {
	h.proxy(c, "")
}

func (h *ProxyHandler) proxy(c *gin.Context, vendorID string) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(api.NewError(http.StatusRequestEntityTooLarge, "Request Entity Too Large", "Request body is too large"))
			return
		}
		_ = c.Error(api.BadRequestError("Failed to read request body"))
		return
	}

	res := h.service.Proxy(c.Request.Context(), c.Writer, &gateway.ProxyRequest{
		Vendor:   vendorID,
		Method:   c.Request.Method,
		Path:     c.Param("path"),
		RawQuery: c.Request.URL.RawQuery,
		Header:   c.Request.Header.Clone(),
		Body:     body,
		BotToken: middleware.BotToken(c),
	})
	if res.Err != nil {
		_ = c.Error(res.Err)
	}
}
