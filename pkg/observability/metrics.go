package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Recording methods are safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec

	// Tree metrics
	TreeMutationsTotal   *prometheus.CounterVec
	TreeMutationDuration *prometheus.HistogramVec
	TreeIntegrityValid   *prometheus.GaugeVec

	CacheInvalidationsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbor_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_decisions_total",
				Help: "Authorization decisions by check and outcome",
			},
			[]string{"check", "outcome"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbor_decision_duration_seconds",
				Help:    "Authorization decision latency in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"check"},
		),
		TreeMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_tree_mutations_total",
				Help: "Nested-set tree mutations by table, operation and status",
			},
			[]string{"table", "op", "status"},
		),
		TreeMutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbor_tree_mutation_duration_seconds",
				Help:    "Nested-set tree mutation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"table", "op"},
		),
		TreeIntegrityValid: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "arbor_tree_integrity_valid",
				Help: "1 when the last integrity check of the tree passed, 0 otherwise",
			},
			[]string{"table"},
		),
		CacheInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbor_cache_invalidations_total",
				Help: "Number of broad cache invalidations triggered by writes",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.DecisionsTotal,
			m.DecisionDuration,
			m.TreeMutationsTotal,
			m.TreeMutationDuration,
			m.TreeIntegrityValid,
			m.CacheInvalidationsTotal,
		)
	}

	return m
}

// RecordDecision counts one permission check. Outcome is allow, deny or error.
func (m *Metrics) RecordDecision(check string, allowed bool, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "deny"
	switch {
	case err != nil:
		outcome = "error"
	case allowed:
		outcome = "allow"
	}
	m.DecisionsTotal.WithLabelValues(check, outcome).Inc()
	m.DecisionDuration.WithLabelValues(check).Observe(d.Seconds())
}

func (m *Metrics) RecordTreeMutation(table, op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TreeMutationsTotal.WithLabelValues(table, op, status).Inc()
	m.TreeMutationDuration.WithLabelValues(table, op).Observe(d.Seconds())
}

func (m *Metrics) SetTreeIntegrity(table string, valid bool) {
	if m == nil {
		return
	}
	v := 0.0
	if valid {
		v = 1
	}
	m.TreeIntegrityValid.WithLabelValues(table).Set(v)
}

func (m *Metrics) RecordInvalidation() {
	if m == nil {
		return
	}
	m.CacheInvalidationsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Requests are labelled by
// their mux route template to keep label cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
