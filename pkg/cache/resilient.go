package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Resilient wraps a Cache so that backend failures never reach callers: a
// failed Get is a miss and failed writes are logged and dropped.
type Resilient struct {
	next    Cache
	logger  logrus.FieldLogger
	metrics *Metrics
}

// NewResilient wraps next. Wrapping a *Resilient returns it unchanged.
func NewResilient(next Cache, logger logrus.FieldLogger, metrics *Metrics) *Resilient {
	if r, ok := next.(*Resilient); ok {
		return r
	}
	if next == nil {
		next = Noop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resilient{next: next, logger: logger, metrics: metrics}
}

func (r *Resilient) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	value, ok, err := r.next.Get(ctx, key)
	switch {
	case err != nil:
		r.metrics.record("get", "error")
		r.logger.WithError(err).WithField("key", key.String()).Warn("Cache get failed, treating as miss")
		return nil, false, nil
	case ok:
		r.metrics.record("get", "hit")
	default:
		r.metrics.record("get", "miss")
	}
	return value, ok, nil
}

func (r *Resilient) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if err := r.next.Set(ctx, key, value, ttl); err != nil {
		r.metrics.record("set", "error")
		r.logger.WithError(err).WithField("key", key.String()).Warn("Cache set failed")
		return nil
	}
	r.metrics.record("set", "ok")
	return nil
}

// Delete is used for invalidation, so a failure is logged at error level: the
// deleted entries may be served stale until their TTL expires.
func (r *Resilient) Delete(ctx context.Context, keys ...Key) error {
	if err := r.next.Delete(ctx, keys...); err != nil {
		r.metrics.record("delete", "error")
		r.logger.WithError(err).WithField("keys", len(keys)).Error("Cache invalidation failed")
		return nil
	}
	r.metrics.record("delete", "ok")
	return nil
}
