package echoapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trezcool/orgpanel/core/hierarchy"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orgpanel_http_requests_total",
		Help: "Number of HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orgpanel_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	forestSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orgpanel_hierarchy_forest_nodes",
		Help:    "Number of nodes in the built hierarchy trees.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)

func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		// handle the error here so the response status is known
		if err := next(ctx); err != nil {
			ctx.Error(err)
		}

		status := ctx.Response().Status
		route := ctx.Path()
		if route == "" {
			route = "unknown"
		}
		method := ctx.Request().Method
		requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return nil
	}
}

func observeForest(forest []*hierarchy.TreeNode) {
	forestSize.Observe(float64(hierarchy.Count(forest)))
}
