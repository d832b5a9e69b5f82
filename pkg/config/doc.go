// Package config loads the arbord configuration from environment variables.
//
// # Overview
//
// Every setting has a default; LoadConfig reads the environment and runs
// Validate.
//
// # Configuration Structure
//
// Server settings:
//
//	ARBOR_HOST="0.0.0.0"
//	ARBOR_PORT="8080"
//	ARBOR_HEALTH_PORT="9090"
//	ARBOR_MAX_BODY_BYTES="1048576"
//	ARBOR_READ_TIMEOUT="15s"
//	ARBOR_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	ARBOR_DB_DIALECT="postgres"  # postgres, sqlite3
//	ARBOR_DB_URL="postgres://localhost/arbor?sslmode=disable"
//	ARBOR_DB_REPLICA_URLS="postgres://replica1/arbor,postgres://replica2/arbor"
//	ARBOR_DB_MAX_CONNS="20"
//
// Cache settings:
//
//	ARBOR_CACHE_BACKEND="redis"  # memory, redis, none
//	ARBOR_CACHE_TTL="7200"       # seconds, or a Go duration
//	ARBOR_CACHE_GENERATION_TTL="5m"  # bounds staleness after a failed invalidation
//	ARBOR_REDIS_URL="redis://localhost:6379/0"
//	ARBOR_REDIS_PREFIX="arbor:"
//
// RBAC settings:
//
//	ARBOR_SCHEMA_FILE="/etc/arbor/schema.yaml"
//	ARBOR_INTEGRITY_SCHEDULE="7 * * * *"  # "off" disables the check
//	ARBOR_AUTO_MIGRATE="false"
//	ARBOR_ADMIN_RESOURCE=""  # page resource required to call /rbac
//
// Observability settings:
//
//	ARBOR_LOG_LEVEL="info"  # debug, info, warn, error
//	ARBOR_LOG_FORMAT="json" # json, text
//	ARBOR_METRICS_ENABLED="true"
//	ARBOR_OTEL_ENABLED="true"
//	ARBOR_OTEL_ENDPOINT="otel-collector:4317"
//	ARBOR_OTEL_SAMPLE_RATIO="0.1"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := observability.NewLogger(cfg.Observability.Log)
package config
