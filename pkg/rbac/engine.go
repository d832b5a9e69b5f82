package rbac

import (
	"context"
	"database/sql"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/platinummonkey/arbor/pkg/cache"
	"github.com/platinummonkey/arbor/pkg/observability"
	"github.com/platinummonkey/arbor/pkg/storage"
)

const instrumentationName = "github.com/platinummonkey/arbor/pkg/rbac"

// Options configures an Engine. The zero value uses the default schema, no
// cache, discarded logs and no metrics.
type Options struct {
	Schema   *Schema
	Cache    cache.Cache
	CacheTTL time.Duration
	// GenerationTTL bounds how long an invalidation lost to a cache outage
	// stays invisible. Defaults to cache.DefaultGenerationTTL.
	GenerationTTL time.Duration
	// CacheMetrics counts cache failures absorbed by the engine.
	CacheMetrics *cache.Metrics
	Logger       logrus.FieldLogger
	Metrics      *observability.Metrics
	// Reader is typically a replica. It serves the uncached reads of the
	// resolver, and the permission checks too when Cache is nil. Cached
	// checks always run on db. Defaults to db.
	Reader storage.Querier
	Now    func() time.Time
}

// Engine wires the components over one database and one cache.
type Engine struct {
	Directory *Directory
	Bindings  *Binding
	Resolver  *Resolver
	Registry  *Registry

	schema  Schema
	dialect storage.Dialect
	db      *sql.DB
	loader  *cache.Loader
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewEngine validates the schema mapping and builds every component. A bad
// mapping fails with a ConfigurationError.
func NewEngine(db *sql.DB, dialect storage.Dialect, opts Options) (*Engine, error) {
	if db == nil {
		return nil, &ConfigurationError{Field: "db", Reason: "database handle is required"}
	}
	if dialect == nil {
		return nil, &ConfigurationError{Field: "dialect", Reason: "dialect is required"}
	}

	schema := DefaultSchema()
	if opts.Schema != nil {
		schema = *opts.Schema
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var reader storage.Querier = db
	if opts.Reader != nil {
		reader = opts.Reader
	}

	// A cached answer outlives the generation it was stored under, so it
	// must not come from a replica that has not seen the write yet.
	checks := reader
	var c cache.Cache = cache.Noop{}
	if opts.Cache != nil {
		c = cache.NewResilient(opts.Cache, logger.WithField("component", "cache"), opts.CacheMetrics)
		checks = db
	}
	loader := cache.NewLoader(c, opts.CacheTTL).WithGenerationTTL(opts.GenerationTTL)
	inv := &invalidator{loader: loader, logger: logger, metrics: opts.Metrics}
	q := schema.quoted(dialect)

	roles := newTree(db, dialect, schema.roleTable(), roleMapper(schema), logger, opts.Metrics)
	perms := newTree(db, dialect, schema.permissionTable(), permissionMapper(schema), logger, opts.Metrics)

	bindings := &Binding{db: db, dialect: dialect, q: q, inv: inv, now: now, logger: logger.WithField("component", "binding")}

	return &Engine{
		Directory: &Directory{
			tree: roles, db: db, dialect: dialect, q: q, loader: loader, inv: inv,
			logger: logger.WithField("component", "directory"),
		},
		Bindings: bindings,
		Resolver: &Resolver{
			reader: reader, checks: checks, dialect: dialect, q: q, bindings: bindings, loader: loader,
			logger: logger.WithField("component", "resolver"), metrics: opts.Metrics,
			tracer: otel.Tracer(instrumentationName),
		},
		Registry: &Registry{
			perms: perms, db: db, dialect: dialect, q: q, inv: inv,
			logger: logger.WithField("component", "registry"),
		},
		schema:  schema,
		dialect: dialect,
		db:      db,
		loader:  loader,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Schema returns the unquoted schema mapping.
func (e *Engine) Schema() Schema {
	return e.schema
}

func (e *Engine) Dialect() storage.Dialect {
	return e.dialect
}

// FlushCache drops the fixed invalidation key set.
func (e *Engine) FlushCache(ctx context.Context) {
	(&invalidator{loader: e.loader, logger: e.logger, metrics: e.metrics}).invalidate(ctx)
}

// Trees returns the role and permission trees for integrity checks.
func (e *Engine) Trees() []Verifier {
	return []Verifier{e.Directory.tree, e.Registry.perms}
}

// Verifier checks the nested-set invariants of one table.
type Verifier interface {
	Table() string
	Verify(ctx context.Context) error
}
