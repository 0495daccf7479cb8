package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/bot-router/internal/routing"
	"github.com/nulzo/bot-router/internal/server/validator"
	"github.com/nulzo/bot-router/pkg/api"
)

// RouteTester is the admin surface of the routing engine.
type RouteTester interface {
	TestRoute(ctx context.Context, req routing.Request) (*routing.Result, error)
	ClearLoadBalanceState(ctx context.Context, configID string) error
}

type RoutesHandler struct {
	engine    RouteTester
	validator *validator.Validator
}

func NewRoutesHandler(engine RouteTester, v *validator.Validator) *RoutesHandler {
	return &RoutesHandler{engine: engine, validator: v}
}

// Test resolves a route without forwarding anything. Load balance cursors
// still advance.
//
// POST /admin/v1/routes/test
func (h *RoutesHandler) Test(c *gin.Context) {
	var req api.RouteTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	res, err := h.engine.TestRoute(c.Request.Context(), routing.Request{
		BotID:    req.BotID,
		Message:  req.Message,
		HasTools: req.HasTools,
		Context:  req.Context,
	})
	if errors.Is(err, routing.ErrNoRoute) {
		_ = c.Error(api.NotFoundError(err.Error()))
		return
	}
	if err != nil {
		_ = c.Error(api.InternalError("Failed to resolve route", err))
		return
	}

	c.JSON(http.StatusOK, toRouteResponse(res))
}

// ResetState clears one config's load balance cursor, or all of them.
//
// DELETE /admin/v1/routes/state
// DELETE /admin/v1/routes/state/:id
func (h *RoutesHandler) ResetState(c *gin.Context) {
	configID := c.Param("id")
	if err := h.engine.ClearLoadBalanceState(c.Request.Context(), configID); err != nil {
		_ = c.Error(api.InternalError("Failed to reset load balance state", err))
		return
	}
	c.Status(http.StatusNoContent)
}

func toRouteResponse(res *routing.Result) api.RouteResponse {
	out := api.RouteResponse{
		RouteTarget:     toRouteTarget(res.Target),
		Reason:          res.Reason,
		Strategy:        res.Strategy,
		MatchedRule:     res.MatchedRule,
		RoutingConfigID: res.RoutingConfigID,
	}
	for _, t := range res.FallbackChain {
		out.FallbackChain = append(out.FallbackChain, toRouteTarget(t))
	}
	if res.Complexity != nil {
		out.Complexity = &api.RouteComplexity{
			InputLevel:    res.Complexity.InputLevel,
			ResolvedLevel: res.Complexity.ResolvedLevel,
			LatencyMS:     res.Complexity.Latency.Milliseconds(),
		}
	}
	return out
}

func toRouteTarget(t routing.Target) api.RouteTarget {
	return api.RouteTarget{ProviderKeyRef: t.ProviderKeyRef, Vendor: t.Vendor, Model: t.Model}
}
