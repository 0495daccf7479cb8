package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/bot-router/internal/analytics"
	"github.com/nulzo/bot-router/internal/config"
	"github.com/nulzo/bot-router/internal/gateway"
	"github.com/nulzo/bot-router/internal/server/middleware"
	v1 "github.com/nulzo/bot-router/internal/server/v1"
	"github.com/nulzo/bot-router/internal/vendor"
	"go.uber.org/zap"
)

// ServiceName names the process in traces.
const ServiceName = "bot-router"

// Services are the collaborators the HTTP layer exposes.
type Services struct {
	Proxy        gateway.Service
	Routes       v1.RouteTester
	Analytics    analytics.Service
	Vendors      *vendor.Registry
	Availability v1.Harvester
	Checks       map[string]v1.Check
	Version      string
}

type Server struct {
	router   *gin.Engine
	config   *config.Config
	logger   *zap.Logger
	services Services
}

func New(cfg *config.Config, logger *zap.Logger, services Services) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery(logger))
	if cfg.Tracing.Enabled {
		engine.Use(middleware.Tracing(ServiceName))
	}
	engine.Use(middleware.BotIdentity())
	engine.Use(middleware.Logger(logger))

	s := &Server{
		router:   engine,
		services: services,
		logger:   logger,
		config:   cfg,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
