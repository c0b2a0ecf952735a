package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samandartukhtayev/ecommerce-sharding/api/health"
	"github.com/samandartukhtayev/ecommerce-sharding/api/middleware"
	"github.com/samandartukhtayev/ecommerce-sharding/config"
)

// Controller mounts its routes under /api/v1
type Controller interface {
	RegisterRoutes(router *gin.RouterGroup)
}

type Router struct {
	engine *gin.Engine
	config *config.Config
}

// NewRouter builds the engine with the shared middleware chain, the
// health endpoints and /metrics served from gatherer.
func NewRouter(cfg *config.Config, healthController *health.Controller, gatherer prometheus.Gatherer) *Router {
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// order matters: the request id is needed by everything after it
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(middleware.RecoveryMiddleware())
	engine.Use(middleware.LoggingMiddleware())
	engine.Use(middleware.RateLimitMiddleware(&cfg.Server.RateLimit))

	healthController.RegisterRoutes(engine)
	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &Router{engine: engine, config: cfg}
}

// SetupRoutes mounts each controller under /api/v1
func (r *Router) SetupRoutes(controllers ...Controller) {
	apiGroup := r.engine.Group("/api/v1")
	for _, c := range controllers {
		c.RegisterRoutes(apiGroup)
	}

	r.engine.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"name":    r.config.App.Name,
			"version": r.config.App.Version,
			"env":     r.config.App.Env,
			"health":  "/health",
		})
	})
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
