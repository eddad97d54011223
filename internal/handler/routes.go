package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"product-gateway/internal/config"
	"product-gateway/internal/metrics"
)

// RegisterRoutes wires the gateway route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/health", health.Health)
	e.GET("/status", health.Status)

	e.Any("/api/*", proxy.Handle)
}

// RegisterBackendRoutes wires the product backend route handlers onto the Echo instance.
func RegisterBackendRoutes(e *echo.Echo, products *ProductHandler, health *HealthHandler) {
	e.GET("/health", health.Health)

	e.POST("/api/products", products.Create)
	e.GET("/api/products", products.List)
}

// RegisterMetricsRoute exposes the Prometheus registry when metrics are enabled.
func RegisterMetricsRoute(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
