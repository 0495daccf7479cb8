package server

import (
	"github.com/gin-gonic/gin"
	"github.com/nulzo/bot-router/internal/server/middleware"
	v1 "github.com/nulzo/bot-router/internal/server/v1"
	"github.com/nulzo/bot-router/internal/server/validator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	healthHandler := v1.NewHealthHandler(s.services.Version, s.services.Checks)
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger)
	proxyHandler := v1.NewProxyHandler(s.services.Proxy, 0)

	proxy := s.router.Group("/proxy")
	proxy.Use(limiter.Middleware())
	proxy.Any("/:vendor/*path", proxyHandler.Static)

	routed := s.router.Group("/v1")
	routed.Use(limiter.Middleware())
	routed.Any("/*path", proxyHandler.Routed)

	admin := s.router.Group("/admin/v1")
	admin.Use(middleware.AdminAuth(s.config.Server.AdminKeys))
	{
		routesHandler := v1.NewRoutesHandler(s.services.Routes, validator.New())
		admin.POST("/routes/test", routesHandler.Test)
		admin.DELETE("/routes/state", routesHandler.ResetState)
		admin.DELETE("/routes/state/:id", routesHandler.ResetState)

		analyticsHandler := v1.NewAnalyticsHandler(s.services.Analytics)
		admin.GET("/usage", analyticsHandler.GetUsage)

		vendorHandler := v1.NewVendorHandler(s.services.Vendors)
		admin.GET("/vendors", vendorHandler.List)

		availabilityHandler := v1.NewAvailabilityHandler(s.services.Availability)
		admin.POST("/availability/refresh", availabilityHandler.Refresh)
	}
}
