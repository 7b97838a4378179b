package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imagevault"

// Upload results.
const (
	UploadCreated      = "created"
	UploadDeduplicated = "deduplicated"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Uploads by result.",
	}, []string{"result"})

	generations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "thumbnail_attempts_total",
		Help:      "Thumbnail generation attempts by outcome.",
	}, []string{"outcome"})

	generationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "thumbnail_duration_seconds",
		Help:      "Time spent on a single thumbnail generation attempt.",
		Buckets:   prometheus.DefBuckets,
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "thumbnail_queue_depth",
		Help:      "Generation requests waiting for a worker.",
	})

	initOnce sync.Once
)

// InitMetrics registers collectors with the default registry. Safe to call repeatedly.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, uploads, generations, generationDuration, queueDepth)
	})
}

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// ObserveUpload counts one upload by result.
func ObserveUpload(result string) {
	uploads.WithLabelValues(result).Inc()
}

// ObserveGeneration counts one generation attempt and its duration.
func ObserveGeneration(outcome string, elapsed time.Duration) {
	generations.WithLabelValues(outcome).Inc()
	generationDuration.Observe(elapsed.Seconds())
}

// SetQueueDepth reports the current generation backlog.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
