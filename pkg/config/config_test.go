package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{"returns env value when set", "ARBOR_TEST_VAR", "default", "custom", "custom"},
		{"returns default when env not set", "ARBOR_TEST_VAR_NOT_SET", "default", "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"false", true, false},
		{"yes", true, false},
		{"", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("ARBOR_TEST_BOOL", tt.envValue)
			if got := getEnvBool("ARBOR_TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("ARBOR_TEST_INT", "42")
	if got := getEnvInt("ARBOR_TEST_INT", 7); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}

	t.Setenv("ARBOR_TEST_INT", "many")
	if got := getEnvInt("ARBOR_TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want default 7", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"go duration", "90s", 90 * time.Second},
		{"bare seconds", "7200", 2 * time.Hour},
		{"invalid falls back", "soon", time.Minute},
		{"unset", "", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ARBOR_TEST_DURATION", tt.envValue)
			assert.Equal(t, tt.want, getEnvDuration("ARBOR_TEST_DURATION", time.Minute))
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ARBOR_DB_URL", "postgres://localhost/arbor")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Empty(t, cfg.Database.ReplicaURLs)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, 7200*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.GenerationTTL)
	assert.Equal(t, "arbor:", cfg.Cache.Redis.Prefix)
	assert.Equal(t, "7 * * * *", cfg.RBAC.IntegritySchedule)
	assert.Empty(t, cfg.RBAC.SchemaFile)
	assert.Equal(t, "info", cfg.Observability.Log.Level)
	assert.Equal(t, "json", cfg.Observability.Log.Format)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
	assert.Equal(t, 1.0, cfg.Observability.OTelSampleRatio)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("ARBOR_PORT", "8000")
	t.Setenv("ARBOR_DB_DIALECT", "sqlite3")
	t.Setenv("ARBOR_DB_URL", "file:arbor.db?_foreign_keys=on")
	t.Setenv("ARBOR_DB_REPLICA_URLS", "file:r1.db, file:r2.db")
	t.Setenv("ARBOR_CACHE_BACKEND", "Redis")
	t.Setenv("ARBOR_CACHE_TTL", "600")
	t.Setenv("ARBOR_CACHE_GENERATION_TTL", "90s")
	t.Setenv("ARBOR_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("ARBOR_SCHEMA_FILE", "/etc/arbor/schema.yaml")
	t.Setenv("ARBOR_INTEGRITY_SCHEDULE", "@hourly")
	t.Setenv("ARBOR_ADMIN_RESOURCE", "rbac/admin")
	t.Setenv("ARBOR_LOG_LEVEL", "debug")
	t.Setenv("ARBOR_OTEL_ENABLED", "true")
	t.Setenv("ARBOR_OTEL_SAMPLE_RATIO", "0.05")
	t.Setenv("ARBOR_MAX_BODY_BYTES", "4096")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Dialect)
	assert.Equal(t, []string{"file:r1.db", "file:r2.db"}, cfg.Database.ReplicaURLs)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 90*time.Second, cfg.Cache.GenerationTTL)
	assert.Equal(t, "redis://cache:6379/1", cfg.Cache.Redis.URL)
	assert.Equal(t, "/etc/arbor/schema.yaml", cfg.RBAC.SchemaFile)
	assert.Equal(t, "@hourly", cfg.RBAC.IntegritySchedule)
	assert.Equal(t, "rbac/admin", cfg.RBAC.AdminResource)
	assert.Equal(t, "debug", cfg.Observability.Log.Level)
	assert.True(t, cfg.Observability.OTelEnabled)
	assert.Equal(t, 0.05, cfg.Observability.OTelSampleRatio)
	assert.Equal(t, int64(4096), cfg.Server.MaxBodyBytes)
}

func TestLoadConfig_IntegrityCheckOff(t *testing.T) {
	t.Setenv("ARBOR_DB_URL", "postgres://localhost/arbor")
	t.Setenv("ARBOR_INTEGRITY_SCHEDULE", "OFF")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.RBAC.IntegritySchedule)
}

func TestValidate(t *testing.T) {
	t.Setenv("ARBOR_DB_URL", "postgres://localhost/arbor")
	valid := func() *Config {
		cfg, err := LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"shared ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"unknown dialect", func(c *Config) { c.Database.Dialect = "oracle" }, "oracle"},
		{"missing database url", func(c *Config) { c.Database.PrimaryURL = "" }, "database URL is required"},
		{"min above max", func(c *Config) { c.Database.MinConns = 50 }, "exceeds max connections"},
		{"redis without url", func(c *Config) { c.Cache.Backend = CacheRedis }, "redis URL is required"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }, "invalid cache backend"},
		{"no cache", func(c *Config) { c.Cache.Backend = CacheNone }, ""},
		{"negative generation ttl", func(c *Config) { c.Cache.GenerationTTL = -time.Second }, "generation TTL"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("ARBOR_DB_URL", "")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}
