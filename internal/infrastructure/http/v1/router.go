// Package v1 provides HTTP API version 1: a products API showing how concurrent edits
// surface as 409 conflicts.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"unitwork/internal/domain/catalog"
	"unitwork/internal/domain/staff"
	"unitwork/internal/infrastructure/http/v1/handlers"
	"unitwork/internal/infrastructure/http/v1/middleware"
	"unitwork/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Catalog *catalog.Service
	Staff   *staff.Service

	// Storage is pinged by /health; Driver names it in the response.
	Storage handlers.Pinger
	Driver  string

	Logger *logger.Logger

	// Gatherer, when set, is exposed on /metrics.
	Gatherer prometheus.Gatherer

	// Debug keeps gin in debug mode.
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	router := gin.New()

	// Recovery sits inside ErrorHandler so a panic still gets a JSON body.
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Recovery())

	health := handlers.NewHealthHandler(cfg.Storage, cfg.Driver)
	router.GET("/health", health.Health)

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	base := handlers.NewBaseHandler()
	api := router.Group("/api")
	if cfg.Catalog != nil {
		products := handlers.NewProductHandler(base, cfg.Catalog)
		api.GET("/products", products.List)
		api.GET("/products/:id", products.Get)
		api.POST("/products", products.Save)
		api.DELETE("/products/:id", products.Delete)

		categories := handlers.NewCategoryHandler(base, cfg.Catalog)
		api.GET("/categories", categories.List)
		api.POST("/categories", categories.Create)
	}
	if cfg.Staff != nil {
		employees := handlers.NewEmployeeHandler(base, cfg.Staff)
		api.GET("/employees/permanent", employees.Permanent)
		api.GET("/employees/contract", employees.Contract)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "route not found"})
	})

	return router
}
