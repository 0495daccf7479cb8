package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/bot-router/internal/forwarder"
	"github.com/nulzo/bot-router/internal/gateway"
	"github.com/nulzo/bot-router/internal/vendor"
	"github.com/nulzo/bot-router/pkg/api"
	"go.uber.org/zap"
)

// ErrorHandler renders the last handler error as an RFC 9457 problem.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		problem := toProblem(err)

		if problem.Log != nil {
			fields := []zap.Field{
				zap.Int("status", problem.Status),
				zap.String("path", c.Request.URL.Path),
				zap.Error(problem.Log),
			}
			if problem.Status >= http.StatusInternalServerError {
				logger.Error("Request failed", fields...)
			} else {
				logger.Warn("Request failed", fields...)
			}
		}

		if c.Writer.Written() {
			// a stream already started; the status line is gone
			c.Abort()
			return
		}
		// drop headers a failed relay staged for the vendor response
		header := c.Writer.Header()
		for k := range header {
			delete(header, k)
		}
		c.AbortWithStatusJSON(problem.Status, problem)
	}
}

func toProblem(err error) *api.Problem {
	var problem *api.Problem
	if errors.As(err, &problem) {
		return problem
	}

	switch {
	case errors.Is(err, gateway.ErrInvalidBotToken):
		return api.UnauthorizedError("invalid bot token")
	case errors.Is(err, gateway.ErrRoutingUnavailable):
		return api.ServiceUnavailableError("No model is available for this bot", err)
	case errors.Is(err, gateway.ErrCredentialUnavailable):
		return api.ServiceUnavailableError(err.Error(), err)
	case errors.Is(err, vendor.ErrUnknownVendor):
		return api.BadRequestError(err.Error())
	case errors.Is(err, forwarder.ErrUpstreamTimeout):
		return api.GatewayTimeoutError(err.Error(), err)
	case errors.Is(err, forwarder.ErrUpstream):
		return api.GatewayError(err.Error(), err)
	default:
		return api.InternalError("An unexpected error occurred.", err)
	}
}
