package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/cache"
	"github.com/platinummonkey/arbor/pkg/rbac"
	"github.com/platinummonkey/arbor/pkg/storage"
)

const defaultTimeout = 30 * time.Second

// connFlags are the database and cache flags shared by every command that
// talks to the store. Defaults come from the same ARBOR_* variables arbord
// reads.
type connFlags struct {
	dialect     string
	url         string
	schemaFile  string
	redisURL    string
	redisPrefix string
	verbose     bool
}

func addConnFlags(fs *flag.FlagSet) *connFlags {
	f := &connFlags{}
	fs.StringVar(&f.dialect, "dialect", envOr("ARBOR_DB_DIALECT", storage.DialectPostgres), "Database dialect (postgres, sqlite3)")
	fs.StringVar(&f.url, "db-url", os.Getenv("ARBOR_DB_URL"), "Database URL")
	fs.StringVar(&f.schemaFile, "schema", os.Getenv("ARBOR_SCHEMA_FILE"), "YAML table and column mapping")
	fs.StringVar(&f.redisURL, "redis-url", os.Getenv("ARBOR_REDIS_URL"), "Redis URL of the shared decision cache")
	fs.StringVar(&f.redisPrefix, "redis-prefix", envOr("ARBOR_REDIS_PREFIX", "arbor:"), "Redis key prefix")
	fs.BoolVar(&f.verbose, "v", false, "Verbose logging")
	return f
}

// session is an open database plus the engine built over it.
type session struct {
	db      *sql.DB
	dialect storage.Dialect
	schema  rbac.Schema
	redis   *cache.RedisCache
	logger  *logrus.Logger
	engine  *rbac.Engine
}

func (f *connFlags) open(ctx context.Context) (*session, error) {
	if f.url == "" {
		return nil, fmt.Errorf("database URL is required (-db-url or ARBOR_DB_URL)")
	}
	dialect, err := storage.DialectFor(f.dialect)
	if err != nil {
		return nil, err
	}

	schema := rbac.DefaultSchema()
	if f.schemaFile != "" {
		schema, err = rbac.LoadSchema(f.schemaFile)
		if err != nil {
			return nil, err
		}
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if f.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	db, err := sql.Open(dialect.Name(), f.url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &session{db: db, dialect: dialect, schema: schema, logger: logger}

	opts := rbac.Options{Schema: &schema, Logger: logger}
	if f.redisURL != "" {
		s.redis, err = cache.NewRedisCache(cache.RedisConfig{URL: f.redisURL, Prefix: f.redisPrefix})
		if err != nil {
			db.Close()
			return nil, err
		}
		opts.Cache = s.redis
	}

	s.engine, err = rbac.NewEngine(db, dialect, opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() error {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	return s.db.Close()
}

func withSession(f *connFlags, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	s, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseID(name, value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("-%s is required", name)
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid -%s %q", name, value)
	}
	return id, nil
}
