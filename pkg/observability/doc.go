// Package observability provides structured logging, Prometheus metrics,
// health checks, graceful shutdown, and OpenTelemetry tracing for arbord.
//
// # Structured Logging
//
// Loggers are logrus loggers configured from LogConfig:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//
// FromContext returns a logger carrying the request id and, when a span is
// active, the trace and span ids:
//
//	observability.FromContext(r.Context(), logger).Warn("check failed")
//
// # Prometheus Metrics
//
// Metrics are registered on a caller supplied registry. A nil *Metrics is a
// valid no-op recorder.
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision("page", true, nil, time.Since(start))
//	http.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version).
//		AddProbe("database", true, observability.DBProbe(db)).
//		AddProbe("redis", false, observability.RedisProbe(client))
//	observability.RegisterHealthRoutes(mux, checker)
//
// A failing critical probe answers 503; other failures report degraded.
//
// # Graceful Shutdown
//
// ShutdownManager drains the HTTP servers, then runs named hooks in reverse
// registration order under one deadline.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "arbord",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/httputil: recovery middleware
package observability
