package server

import (
	"context"

	"github.com/abduss/imagevault/internal/config"
	"github.com/abduss/imagevault/internal/logger"
	"github.com/abduss/imagevault/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Pinger is a dependency that can report its readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies groups what the operational router needs.
type Dependencies struct {
	Config      config.Config
	DB          Pinger
	ObjectStore Pinger
}

// NewRouter builds the operational Gin engine: health, readiness and metrics.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)

	path := deps.Config.Metrics.PrometheusPath
	if path == "" {
		path = "/metrics"
	}
	metrics.Register(router, path)

	return router
}
