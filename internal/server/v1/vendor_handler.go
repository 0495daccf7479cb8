package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/bot-router/internal/vendor"
	"github.com/nulzo/bot-router/pkg/api"
)

type VendorHandler struct {
	registry *vendor.Registry
}

func NewVendorHandler(registry *vendor.Registry) *VendorHandler {
	return &VendorHandler{registry: registry}
}

// List returns the vendor registry. Credentials never live here.
//
// GET /admin/v1/vendors
func (h *VendorHandler) List(c *gin.Context) {
	entries := h.registry.List()
	out := make([]api.Vendor, 0, len(entries))
	for _, vc := range entries {
		out = append(out, api.Vendor{
			ID:         vc.ID,
			BaseURL:    vc.BaseURL(),
			AuthHeader: vc.AuthHeader,
			APIType:    string(vc.APIType),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   out,
	})
}
