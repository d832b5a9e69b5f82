package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/cache"
	"github.com/platinummonkey/arbor/pkg/config"
	"github.com/platinummonkey/arbor/pkg/observability"
	"github.com/platinummonkey/arbor/pkg/rbac"
	"github.com/platinummonkey/arbor/pkg/storage"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Log)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("arbord stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	cm, err := storage.NewConnectionManager(cfg.Database, logger.WithField("component", "storage"))
	if err != nil {
		return err
	}
	replicaCtx, stopReplicaChecks := context.WithCancel(ctx)
	cm.MonitorReplicas(replicaCtx, 0)

	schema := rbac.DefaultSchema()
	if cfg.RBAC.SchemaFile != "" {
		if schema, err = rbac.LoadSchema(cfg.RBAC.SchemaFile); err != nil {
			return err
		}
	}
	if cfg.RBAC.AutoMigrate {
		if err := rbac.RunMigrations(ctx, cm.Primary(), cm.Dialect(), schema, logger.WithField("component", "migrations")); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	backend, err := newCache(cfg.Cache)
	if err != nil {
		return err
	}

	engine, err := rbac.NewEngine(cm.Primary(), cm.Dialect(), rbac.Options{
		Schema:        &schema,
		Cache:         backend,
		CacheTTL:      cfg.Cache.TTL,
		GenerationTTL: cfg.Cache.GenerationTTL,
		CacheMetrics:  cache.NewMetrics(registry),
		Logger:        logger,
		Metrics:       metrics,
		Reader:        cm.Reader(),
	})
	if err != nil {
		return err
	}

	checker := rbac.NewIntegrityChecker(engine.Trees(), metrics, logger)
	if cfg.RBAC.IntegritySchedule != "" {
		if err := checker.Schedule(cfg.RBAC.IntegritySchedule); err != nil {
			return err
		}
		checker.Start()
	}

	var redisCache *cache.RedisCache
	if rc, ok := backend.(*cache.RedisCache); ok {
		redisCache = rc
	}
	health := newHealthChecker(cm, redisCache, checker)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      newRouter(engine, cfg.RBAC.AdminResource, cfg.Server.MaxBodyBytes, metrics, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: newHealthMux(health, registry, cfg.Observability.MetricsEnabled),
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.Register("database", func(context.Context) error { return cm.Close() })
	shutdown.Register("replica checks", func(context.Context) error {
		stopReplicaChecks()
		return nil
	})
	if redisCache != nil {
		shutdown.Register("redis", func(context.Context) error { return redisCache.Close() })
	}
	shutdown.Register("integrity checker", func(ctx context.Context) error {
		select {
		case <-checker.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveCtx, serveFailed := context.WithCancelCause(context.Background())
	defer serveFailed(nil)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveFailed(fmt.Errorf("server on %s failed: %w", srv.Addr, err))
			}
		}(srv)
	}

	err = shutdown.WaitForShutdown(serveCtx)
	if cause := context.Cause(serveCtx); cause != nil {
		return errors.Join(cause, err)
	}
	return err
}

// newCache builds the configured backend. The none backend returns a nil
// cache, which the engine treats as no caching.
func newCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return rc, nil
	case config.CacheNone:
		return nil, nil
	default:
		return cache.NewMemoryCache(cfg.MemoryEntries, cfg.TTL), nil
	}
}
