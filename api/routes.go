package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"price-aggregator/metrics"
	"price-aggregator/utils"
)

// NewRouter builds the gin engine with logging and request metrics.
// metricsHandler is mounted on /metrics when non-nil.
func NewRouter(handler *Handler, metricsHandler http.Handler, logger *utils.Logger, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger, m))
	SetupRoutes(router, handler)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
	return router
}

// SetupRoutes configures all API routes.
func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.HealthCheck)
	router.GET("/buscar", handler.Search)
	router.GET("/resultados/:id", handler.Results)
}

// LoggerMiddleware logs one line per request and counts it by route.
func LoggerMiddleware(logger *utils.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.IncHTTPRequest(c.Request.Method, route, status)

		if route == "/health" || route == "/metrics" {
			return
		}
		if len(c.Errors) > 0 {
			logger.Error("[http] %s %s %d %v ip=%s errors=%s", c.Request.Method, c.Request.URL.Path, status, time.Since(start), c.ClientIP(), c.Errors.String())
			return
		}
		logger.Info("[http] %s %s %d %v ip=%s", c.Request.Method, c.Request.URL.Path, status, time.Since(start), c.ClientIP())
	}
}
