package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	logins            *prometheus.CounterVec
	registrations     prometheus.Counter
	refreshes         prometheus.Counter
	rotationConflicts prometheus.Counter
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

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome",
	}, []string{"result"})

	registrations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_registrations_total",
		Help: "Successful registrations",
	})

	refreshes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_refreshes_total",
		Help: "Successful refresh token rotations",
	})

	rotationConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_rotation_conflicts_total",
		Help: "Refresh rotations lost to a concurrent writer",
	})

	registry.MustRegister(requestDuration, requestTotal, logins, registrations, refreshes, rotationConflicts)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		logins:            logins,
		registrations:     registrations,
		refreshes:         refreshes,
		rotationConflicts: rotationConflicts,
	}
}

// Handler exposes the /metrics endpoint handler.
func (m *MetricsService) Handler() http.Handler {
	return m.handler
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	m.requestDuration.With(labels).Observe(duration.Seconds())
	m.requestTotal.With(labels).Inc()
}

// ObserveLogin records a login attempt outcome.
func (m *MetricsService) ObserveLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.logins.WithLabelValues(result).Inc()
}

// ObserveRegistration records a successful registration.
func (m *MetricsService) ObserveRegistration() {
	m.registrations.Inc()
}

// ObserveRefresh records a successful token rotation.
func (m *MetricsService) ObserveRefresh() {
	m.refreshes.Inc()
}

// ObserveRotationConflict records a refresh lost to a concurrent writer.
func (m *MetricsService) ObserveRotationConflict() {
	m.rotationConflicts.Inc()
}
