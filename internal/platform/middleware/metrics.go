package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records request counts and latency per route. Routes are the
// registered echo paths, so ids do not explode label cardinality.
func Metrics(reg prometheus.Registerer) echo.MiddlewareFunc {
	f := promauto.With(reg)
	requests := f.NewCounterVec(prometheus.CounterOpts{
		Name: "medsafar_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})
	latency := f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medsafar_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method
			requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
