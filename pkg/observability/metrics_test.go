package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.RecordDecision("hasPagePermission", true, nil, time.Millisecond)
	m.RecordTreeMutation("rbac_roles", "move", nil, time.Millisecond)
	m.SetTreeIntegrity("rbac_roles", true)
	m.RecordInvalidation()

	families, err := registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "arbor_decisions_total")
	assert.Contains(t, names, "arbor_tree_mutations_total")
	assert.Contains(t, names, "arbor_tree_integrity_valid")
	assert.Contains(t, names, "arbor_cache_invalidations_total")
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	assert.Panics(t, func() { NewMetrics(registry) })
	assert.NotPanics(t, func() { NewMetrics(nil) })
}

func TestMetrics_Recording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision("hasRole", true, nil, time.Millisecond)
	m.RecordDecision("hasRole", false, nil, time.Millisecond)
	m.RecordDecision("hasRole", false, nil, time.Millisecond)
	m.RecordDecision("hasRole", false, errors.New("db down"), time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("hasRole", "allow")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("hasRole", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("hasRole", "error")))

	m.RecordTreeMutation("rbac_roles", "insert", nil, time.Millisecond)
	m.RecordTreeMutation("rbac_roles", "insert", errors.New("conflict"), time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TreeMutationsTotal.WithLabelValues("rbac_roles", "insert", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TreeMutationsTotal.WithLabelValues("rbac_roles", "insert", "error")))

	m.SetTreeIntegrity("rbac_permissions", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TreeIntegrityValid.WithLabelValues("rbac_permissions")))
	m.SetTreeIntegrity("rbac_permissions", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TreeIntegrityValid.WithLabelValues("rbac_permissions")))

	m.RecordInvalidation()
	m.RecordInvalidation()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheInvalidationsTotal))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("hasRole", true, nil, time.Millisecond)
		m.RecordTreeMutation("rbac_roles", "insert", nil, time.Millisecond)
		m.SetTreeIntegrity("rbac_roles", true)
		m.RecordInvalidation()
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/rbac/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"1", "2", "3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rbac/roles/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/rbac/roles/{id}", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestDuration))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordInvalidation()

	w := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "arbor_cache_invalidations_total 1"))
}
