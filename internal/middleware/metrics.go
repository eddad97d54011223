package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"product-gateway/internal/metrics"
)

// MetricsMiddleware records inbound request count, latency and concurrency.
// Labels are bounded by metrics.NormalizeMethod and metrics.NormalizePath.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			start := time.Now()

			err := next(c)

			m.RequestsInFlight.Dec()
			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				strconv.Itoa(responseStatus(c, err)),
				metrics.NormalizePath(c.Request().URL.Path),
			}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
