package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/arbor/pkg/cache"
	"github.com/platinummonkey/arbor/pkg/httputil"
	"github.com/platinummonkey/arbor/pkg/observability"
	"github.com/platinummonkey/arbor/pkg/rbac"
	"github.com/platinummonkey/arbor/pkg/storage"
)

// OperationEdit is required on the admin resource for API writes.
const OperationEdit = "edit"

// newRouter builds the API handler. When adminResource is set every /rbac
// route requires a page grant on it: view for reads and checks, edit for
// writes.
func newRouter(engine *rbac.Engine, adminResource string, maxBody int64, metrics *observability.Metrics, logger logrus.FieldLogger) http.Handler {
	router := mux.NewRouter()
	router.Use(
		observability.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
	)

	guard := rbac.NewGuard(engine.Resolver, rbac.HeaderUserID, logger)
	api := router.NewRoute().Subrouter()
	api.Use(httputil.JSONBodyMiddleware(maxBody), guard.RequestScope)
	if adminResource != "" {
		api.Use(adminGuard(guard, adminResource))
	}
	rbac.NewHandlers(engine, logger).RegisterRoutes(api)

	return otelhttp.NewHandler(router, "arbord",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func adminGuard(guard *rbac.Guard, resource string) mux.MiddlewareFunc {
	read := guard.RequirePage(resource, rbac.OperationView)
	write := guard.RequirePage(resource, OperationEdit)
	return func(next http.Handler) http.Handler {
		readNext, writeNext := read(next), write(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.URL.Path == "/rbac/check" {
				readNext.ServeHTTP(w, r)
				return
			}
			writeNext.ServeHTTP(w, r)
		})
	}
}

// newHealthChecker probes the primary database (critical), plus replica
// rotation, the redis cache and the last integrity check result, which only
// degrade readiness.
func newHealthChecker(cm *storage.ConnectionManager, rc *cache.RedisCache, integrity *rbac.IntegrityChecker) *observability.HealthChecker {
	checker := observability.NewHealthChecker(version).
		AddProbe("database", true, observability.DBProbe(cm.Primary())).
		AddProbe("replicas", false, cm.HealthCheck)
	if rc != nil {
		checker.AddProbe("redis", false, observability.RedisProbe(rc.Client()))
	}
	if integrity != nil {
		checker.AddProbe("tree_integrity", false, integrity.LastResult)
	}
	return checker
}

// newHealthMux serves the probes and, when enabled, /metrics on the health
// port.
func newHealthMux(checker *observability.HealthChecker, registry *prometheus.Registry, metricsEnabled bool) *http.ServeMux {
	health := http.NewServeMux()
	observability.RegisterHealthRoutes(health, checker)
	if metricsEnabled {
		health.Handle("/metrics", observability.MetricsHandler(registry))
	}
	return health
}
