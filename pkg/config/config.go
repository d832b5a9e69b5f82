package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/arbor/pkg/cache"
	"github.com/platinummonkey/arbor/pkg/observability"
	"github.com/platinummonkey/arbor/pkg/storage"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database storage.ConnectionConfig

	// Cache configuration
	Cache CacheConfig

	// RBAC engine configuration
	RBAC RBACConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	MaxBodyBytes int64
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Backend string
	TTL     time.Duration
	// GenerationTTL is the lifetime of the invalidation generation tokens.
	GenerationTTL time.Duration
	MemoryEntries int
	Redis         cache.RedisConfig
}

// RBACConfig holds engine settings.
type RBACConfig struct {
	// SchemaFile is an optional YAML table/column mapping.
	SchemaFile string
	// IntegritySchedule is a cron expression; empty disables the check.
	IntegritySchedule string
	AutoMigrate       bool
	// AdminResource, when set, guards the /rbac API with a page check on
	// this resource.
	AdminResource string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	Log observability.LogConfig

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		RBAC:          loadRBACConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ARBOR_HOST", "0.0.0.0"),
		Port:            getEnv("ARBOR_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ARBOR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ARBOR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ARBOR_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ARBOR_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ARBOR_HEALTH_PORT", "9090"),
		MaxBodyBytes:    int64(getEnvInt("ARBOR_MAX_BODY_BYTES", 1<<20)),
	}
}

func loadDatabaseConfig() storage.ConnectionConfig {
	return storage.ConnectionConfig{
		Dialect:     getEnv("ARBOR_DB_DIALECT", storage.DialectPostgres),
		PrimaryURL:  getEnv("ARBOR_DB_URL", ""),
		ReplicaURLs: storage.ParseReplicaURLs(getEnv("ARBOR_DB_REPLICA_URLS", "")),
		MaxConns:    getEnvInt("ARBOR_DB_MAX_CONNS", 20),
		MinConns:    getEnvInt("ARBOR_DB_MIN_CONNS", 5),
		Timeout:     getEnvDuration("ARBOR_DB_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("ARBOR_DB_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("ARBOR_DB_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       strings.ToLower(getEnv("ARBOR_CACHE_BACKEND", CacheMemory)),
		TTL:           getEnvDuration("ARBOR_CACHE_TTL", 7200*time.Second),
		GenerationTTL: getEnvDuration("ARBOR_CACHE_GENERATION_TTL", cache.DefaultGenerationTTL),
		MemoryEntries: getEnvInt("ARBOR_CACHE_MEMORY_ENTRIES", 10000),
		Redis: cache.RedisConfig{
			URL:        getEnv("ARBOR_REDIS_URL", ""),
			Password:   getEnv("ARBOR_REDIS_PASSWORD", ""),
			DB:         getEnvInt("ARBOR_REDIS_DB", 0),
			MaxRetries: getEnvInt("ARBOR_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("ARBOR_REDIS_POOL_SIZE", 10),
			Prefix:     getEnv("ARBOR_REDIS_PREFIX", "arbor:"),
		},
	}
}

func loadRBACConfig() RBACConfig {
	schedule := getEnv("ARBOR_INTEGRITY_SCHEDULE", "7 * * * *")
	if strings.EqualFold(schedule, "off") {
		schedule = ""
	}
	return RBACConfig{
		SchemaFile:        getEnv("ARBOR_SCHEMA_FILE", ""),
		IntegritySchedule: schedule,
		AutoMigrate:       getEnvBool("ARBOR_AUTO_MIGRATE", false),
		AdminResource:     getEnv("ARBOR_ADMIN_RESOURCE", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Log: observability.LogConfig{
			Level:  getEnv("ARBOR_LOG_LEVEL", "info"),
			Format: getEnv("ARBOR_LOG_FORMAT", "json"),
		},
		MetricsEnabled:     getEnvBool("ARBOR_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ARBOR_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ARBOR_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ARBOR_OTEL_SERVICE_NAME", "arbord"),
		OTelServiceVersion: getEnv("ARBOR_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ARBOR_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ARBOR_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if _, err := storage.DialectFor(c.Database.Dialect); err != nil {
		return err
	}
	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("database URL is required (ARBOR_DB_URL)")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min connections (%d) exceeds max connections (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	switch c.Cache.Backend {
	case CacheMemory:
		if c.Cache.MemoryEntries <= 0 {
			return fmt.Errorf("memory cache entries must be positive")
		}
	case CacheRedis:
		if c.Cache.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	case CacheNone:
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache TTL must not be negative")
	}
	if c.Cache.GenerationTTL < 0 {
		return fmt.Errorf("cache generation TTL must not be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default. Bare
// integers are read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
