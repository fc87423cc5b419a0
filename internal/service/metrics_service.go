package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	authOutcomes    *prometheus.CounterVec
	mailDispatched  prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	authOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_operations_total",
		Help: "Credential operations by kind and outcome",
	}, []string{"operation", "outcome"})

	mailDispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mail_dispatched_total",
		Help: "Total transactional mails handed to the dispatcher",
	})

	registry.MustRegister(requestDuration, requestTotal, authOutcomes, mailDispatched)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		authOutcomes:    authOutcomes,
		mailDispatched:  mailDispatched,
	}
}

// Handler exposes the /metrics endpoint handler.
func (m *MetricsService) Handler() http.Handler {
	return m.handler
}

// GinMiddleware records duration and count for every request passing through
// the router. Unmatched routes are labelled by their raw path so they do not
// explode handler-level cardinality.
func (m *MetricsService) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		m.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// ObserveHTTPRequest records duration and count for a completed request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveAuthOperation records the outcome of a credential operation.
func (m *MetricsService) ObserveAuthOperation(operation string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.authOutcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveMailDispatched counts a mail handed to the dispatcher.
func (m *MetricsService) ObserveMailDispatched() {
	m.mailDispatched.Inc()
}
