package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Membership write results
const (
	MembershipCreated = "created"
	MembershipFailed  = "failed"
	MembershipSkipped = "skipped"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Identity provider metrics
	IdentityRequestsTotal   *prometheus.CounterVec
	IdentityRequestDuration *prometheus.HistogramVec

	// Registration metrics
	ReconcileTotal    *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	MembershipsTotal  *prometheus.CounterVec
	RepairRunsTotal   *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen   prometheus.Gauge
	DBConnectionsInUse  prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWaited prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "people_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "people_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "people_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "people_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		IdentityRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "people_identity_requests_total",
				Help: "Identity provider admin API calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		IdentityRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "people_identity_request_duration_seconds",
				Help:    "Identity provider admin API latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "people_reconcile_total",
				Help: "Registration reconciliations by result",
			},
			[]string{"result"},
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "people_reconcile_duration_seconds",
				Help:    "Registration reconciliation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		MembershipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "people_memberships_total",
				Help: "Membership writes by result",
			},
			[]string{"result"},
		),
		RepairRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "people_repair_runs_total",
				Help: "Membership repair sweeps by result",
			},
			[]string{"result"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "people_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "people_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "people_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "people_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "people_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBConnectionsWaited: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "people_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.IdentityRequestsTotal,
		m.IdentityRequestDuration,
		m.ReconcileTotal,
		m.ReconcileDuration,
		m.MembershipsTotal,
		m.RepairRunsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaited,
	)

	return m
}

// The Observe* helpers are safe to call on a nil *Metrics so that
// components can run without a registry in tests.

// ObserveIdentityRequest records one admin API call. Status 0 means the
// provider was unreachable.
func (m *Metrics) ObserveIdentityRequest(op string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.IdentityRequestsTotal.WithLabelValues(op, strconv.Itoa(status)).Inc()
	m.IdentityRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveReconcile records a finished reconciliation
func (m *Metrics) ObserveReconcile(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(result).Inc()
	m.ReconcileDuration.Observe(d.Seconds())
}

// ObserveMemberships adds n membership writes with the given result
func (m *Metrics) ObserveMemberships(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MembershipsTotal.WithLabelValues(result).Add(float64(n))
}

// ObserveRepair records one repair sweep
func (m *Metrics) ObserveRepair(result string) {
	if m == nil {
		return
	}
	m.RepairRunsTotal.WithLabelValues(result).Inc()
}

// CacheHit increments the hit counter for cache
func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// CacheMiss increments the miss counter for cache
func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaited.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the matched route template so that path parameters
// do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Install it with Router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeLabel(r)

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, route).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
