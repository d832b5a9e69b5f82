package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/observability"
)

// DefaultIntegritySchedule runs the check at minute 7 of every hour.
const DefaultIntegritySchedule = "7 * * * *"

// IntegrityChecker periodically validates the nested-set invariants of each
// tree and publishes the result as a gauge.
type IntegrityChecker struct {
	trees   []Verifier
	timeout time.Duration
	metrics *observability.Metrics
	logger  logrus.FieldLogger
	cron    *cron.Cron

	mu   sync.Mutex
	last error
}

func NewIntegrityChecker(trees []Verifier, metrics *observability.Metrics, logger logrus.FieldLogger) *IntegrityChecker {
	return &IntegrityChecker{
		trees:   trees,
		timeout: time.Minute,
		metrics: metrics,
		logger:  logger.WithField("component", "integrity"),
		cron:    cron.New(),
	}
}

// CheckAll verifies every tree and joins the failures.
func (c *IntegrityChecker) CheckAll(ctx context.Context) error {
	var errs []error
	for _, t := range c.trees {
		err := t.Verify(ctx)
		c.metrics.SetTreeIntegrity(t.Table(), err == nil)
		if err != nil {
			c.logger.WithError(err).WithField("table", t.Table()).Error("Tree integrity check failed")
			errs = append(errs, fmt.Errorf("%s: %w", t.Table(), err))
			continue
		}
		c.logger.WithField("table", t.Table()).Debug("Tree integrity check passed")
	}
	err := errors.Join(errs...)
	c.mu.Lock()
	c.last = err
	c.mu.Unlock()
	return err
}

// LastResult returns the outcome of the most recent CheckAll, nil before the
// first run. It has the observability.Probe signature.
func (c *IntegrityChecker) LastResult(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Schedule registers the check with a cron expression. Start runs it.
func (c *IntegrityChecker) Schedule(spec string) error {
	if spec == "" {
		spec = DefaultIntegritySchedule
	}
	_, err := c.cron.AddFunc(spec, func() {
		defer observability.RecoverPanic(c.logger, "integrity check")
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		_ = c.CheckAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule integrity check %q: %w", spec, err)
	}
	return nil
}

func (c *IntegrityChecker) Start() {
	c.cron.Start()
}

// Stop halts the scheduler and returns a context done once running checks
// finish.
func (c *IntegrityChecker) Stop() context.Context {
	return c.cron.Stop()
}
