package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credledger_http_requests_total",
			Help: "Total number of HTTP requests, by route and status code.",
		},
		[]string{"method", "route", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credledger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	credentialsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credledger_credentials_issued_total",
			Help: "Total number of credentials signed.",
		},
	)

	issuanceDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credledger_issuance_policy_denials_total",
			Help: "Total number of issuances rejected by the issuance policy.",
		},
	)

	blocksFinalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credledger_blocks_finalized_total",
			Help: "Total number of blocks appended to the chain.",
		},
	)

	revocationsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credledger_revocations_total",
			Help: "Total number of revocations appended to the chain.",
		},
	)

	verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credledger_verifications_total",
			Help: "Total number of credential status checks, by result.",
		},
		[]string{"status"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credledger_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
		[]string{"route"},
	)
)

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestCount.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func metricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
