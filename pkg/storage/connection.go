package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnectionManager holds the primary pool used for writes and tree
// mutations, and optional read replicas for permission checks. A replica that
// fails a ping is taken out of rotation and put back once it answers again.
type ConnectionManager struct {
	dialect  Dialect
	primary  *sql.DB
	replicas []*replica
	next     atomic.Uint32
	config   ConnectionConfig
	logger   logrus.FieldLogger
}

type replica struct {
	name string
	db   *sql.DB
	up   atomic.Bool
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	Dialect     string
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// NewConnectionManager opens and pings the primary. Replicas are opened too,
// but one that does not answer yet starts out of rotation instead of failing
// startup.
func NewConnectionManager(config ConnectionConfig, logger logrus.FieldLogger) (*ConnectionManager, error) {
	dialect, err := DialectFor(config.Dialect)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	cm := &ConnectionManager{dialect: dialect, config: config, logger: logger}

	primary, err := cm.open(config.PrimaryURL, config.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}
	if err := cm.ping(primary); err != nil {
		primary.Close()
		return nil, fmt.Errorf("failed to reach primary: %w", err)
	}
	cm.primary = primary

	for i, url := range config.ReplicaURLs {
		db, err := cm.open(url, replicaPoolSize(config.MaxConns))
		if err != nil {
			logger.WithError(err).WithField("replica", i).Warn("Skipping replica")
			continue
		}
		r := &replica{name: fmt.Sprintf("replica-%d", i), db: db}
		if err := cm.ping(db); err != nil {
			logger.WithError(err).WithField("replica", r.name).Warn("Replica unreachable, starting out of rotation")
		} else {
			r.up.Store(true)
		}
		cm.replicas = append(cm.replicas, r)
	}

	logger.WithFields(logrus.Fields{
		"dialect":  dialect.Name(),
		"replicas": len(cm.replicas),
	}).Info("Connection manager initialized")

	return cm, nil
}

// NewConnectionManagerFromDB wraps pools that were opened elsewhere. Every
// replica starts in rotation.
func NewConnectionManagerFromDB(dialect Dialect, primary *sql.DB, replicas ...*sql.DB) *ConnectionManager {
	cm := &ConnectionManager{
		dialect: dialect,
		primary: primary,
		config:  ConnectionConfig{Timeout: 5 * time.Second},
		logger:  logrus.StandardLogger(),
	}
	for i, db := range replicas {
		r := &replica{name: fmt.Sprintf("replica-%d", i), db: db}
		r.up.Store(true)
		cm.replicas = append(cm.replicas, r)
	}
	return cm
}

func (cm *ConnectionManager) open(url string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(cm.dialect.Name(), url)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	db.SetMaxIdleConns(cm.config.MinConns)
	db.SetConnMaxLifetime(cm.config.MaxLifetime)
	db.SetConnMaxIdleTime(cm.config.MaxIdleTime)
	return db, nil
}

func (cm *ConnectionManager) ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), cm.config.Timeout)
	defer cancel()
	return db.PingContext(ctx)
}

func replicaPoolSize(maxConns int) int {
	return max(maxConns/2, 2)
}

func (cm *ConnectionManager) Dialect() Dialect {
	return cm.dialect
}

// Primary returns the pool for writes and for reads that must see them.
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns the next replica in rotation, or the primary when none is
// up.
func (cm *ConnectionManager) Replica() *sql.DB {
	n := uint32(len(cm.replicas))
	if n == 0 {
		return cm.primary
	}
	start := cm.next.Add(1)
	for i := uint32(0); i < n; i++ {
		if r := cm.replicas[(start+i)%n]; r.up.Load() {
			return r.db
		}
	}
	return cm.primary
}

// Reader returns a Querier that picks a replica for every statement.
// Writes issued through it go to the primary.
func (cm *ConnectionManager) Reader() Querier {
	return replicaReader{cm: cm}
}

type replicaReader struct {
	cm *ConnectionManager
}

func (r replicaReader) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.cm.Primary().ExecContext(ctx, query, args...)
}

func (r replicaReader) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.cm.Replica().QueryContext(ctx, query, args...)
}

func (r replicaReader) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.cm.Replica().QueryRowContext(ctx, query, args...)
}

// HealthCheck pings the primary. With replicas configured it also fails when
// none of them is in rotation, even though reads still work off the primary.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}
	if len(cm.replicas) == 0 {
		return nil
	}
	var down []string
	for _, r := range cm.replicas {
		if !r.up.Load() {
			down = append(down, r.name)
		}
	}
	if len(down) == len(cm.replicas) {
		return fmt.Errorf("no replica in rotation (%s), reads served by primary", strings.Join(down, ", "))
	}
	return nil
}

// ReplicaStats is the pool state of one replica.
type ReplicaStats struct {
	Name    string
	InUse   bool
	DBStats sql.DBStats
}

type ConnectionStats struct {
	Primary  sql.DBStats
	Replicas []ReplicaStats
}

func (cm *ConnectionManager) Stats() ConnectionStats {
	stats := ConnectionStats{Primary: cm.primary.Stats()}
	for _, r := range cm.replicas {
		stats.Replicas = append(stats.Replicas, ReplicaStats{Name: r.name, InUse: r.up.Load(), DBStats: r.db.Stats()})
	}
	return stats
}

// RefreshReplicas pings every replica, taking failing ones out of rotation
// and returning recovered ones to it. It reports how many changed each way.
func (cm *ConnectionManager) RefreshReplicas(ctx context.Context) (lost, recovered int) {
	for _, r := range cm.replicas {
		err := r.db.PingContext(ctx)
		switch {
		case err != nil && r.up.CompareAndSwap(true, false):
			lost++
			cm.logger.WithError(err).WithField("replica", r.name).Warn("Replica taken out of rotation")
		case err == nil && r.up.CompareAndSwap(false, true):
			recovered++
			cm.logger.WithField("replica", r.name).Info("Replica back in rotation")
		}
	}
	return lost, recovered
}

// MonitorReplicas runs RefreshReplicas every interval until ctx is
// cancelled.
func (cm *ConnectionManager) MonitorReplicas(ctx context.Context, interval time.Duration) {
	if len(cm.replicas) == 0 {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer func() {
			if r := recover(); r != nil {
				cm.logger.WithField("stack", string(debug.Stack())).Errorf("replica monitor panicked: %v", r)
			}
		}()

		for {
			select {
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, cm.config.Timeout)
				cm.RefreshReplicas(checkCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes the primary and every replica.
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	for _, r := range cm.replicas {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}

// ParseReplicaURLs parses a comma-separated list of replica URLs
func ParseReplicaURLs(replicaURLsStr string) []string {
	if replicaURLsStr == "" {
		return nil
	}

	urls := strings.Split(replicaURLsStr, ",")
	result := make([]string, 0, len(urls))
	for _, url := range urls {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
