package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
)

const checkTimeout = 2 * time.Second

// CheckFunc checks one dependency
type CheckFunc func(ctx context.Context) error

type Controller struct {
	config    *config.Config
	checks    map[string]CheckFunc
	startTime time.Time
}

func NewController(cfg *config.Config, checks map[string]CheckFunc) *Controller {
	if checks == nil {
		checks = map[string]CheckFunc{}
	}
	return &Controller{
		config:    cfg,
		checks:    checks,
		startTime: time.Now(),
	}
}

func (c *Controller) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", c.Health)
	router.GET("/health/live", c.Liveness)
	router.GET("/health/ready", c.Health)
}

type HealthResponse struct {
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health runs every dependency check; any failure answers 503
func (c *Controller) Health(ctx *gin.Context) {
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	results := make(map[string]Check, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), checkTimeout)
		start := time.Now()
		err := c.checks[name](checkCtx)
		cancel()

		check := Check{Status: "healthy", Latency: time.Since(start).String()}
		if err != nil {
			check.Status = "unhealthy"
			check.Message = err.Error()
			status = "unhealthy"
		}
		results[name] = check
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, HealthResponse{
		Status:    status,
		Service:   c.config.App.Name,
		Version:   c.config.App.Version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	})
}

func (c *Controller) Liveness(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "alive"})
}
