package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/bot-router/internal/availability"
	"github.com/nulzo/bot-router/pkg/api"
)

// Harvester refreshes model availability from the vendors' model listings.
type Harvester interface {
	HarvestAll(ctx context.Context) ([]availability.Summary, error)
}

type AvailabilityHandler struct {
	harvester Harvester
}

func NewAvailabilityHandler(harvester Harvester) *AvailabilityHandler {
	return &AvailabilityHandler{harvester: harvester}
}

// Refresh
//
// POST /admin/v1/availability/refresh
func (h *AvailabilityHandler) Refresh(c *gin.Context) {
	if h.harvester == nil {
		_ = c.Error(api.ServiceUnavailableError("Availability refresh is not configured", nil))
		return
	}

	summaries, err := h.harvester.HarvestAll(c.Request.Context())
	if err != nil {
		_ = c.Error(api.InternalError("Failed to refresh availability", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   summaries,
	})
}
