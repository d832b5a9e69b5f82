package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCache struct{ err error }

func (f failingCache) Get(context.Context, Key) ([]byte, bool, error) { return nil, false, f.err }

func (f failingCache) Set(context.Context, Key, []byte, time.Duration) error { return f.err }

func (f failingCache) Delete(context.Context, ...Key) error { return f.err }

func TestResilientDegradesToMiss(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	metrics := NewMetrics(prometheus.NewRegistry())
	c := NewResilient(failingCache{err: errors.New("connection refused")}, logger, metrics)
	ctx := context.Background()
	key := NewKey("Roles", "getRoles")

	v, ok, err := c.Get(ctx, key)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)

	assert.NoError(t, c.Set(ctx, key, []byte("x"), time.Minute))
	assert.NoError(t, c.Delete(ctx, key))

	require.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("get", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("delete", "error")))
}

func TestResilientCountsHitsAndMisses(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	c := NewResilient(NewMemoryCache(10, time.Hour), logrus.New(), metrics)
	ctx := context.Background()
	key := NewKey("Roles", "getRoot")

	_, _, _ = c.Get(ctx, key)
	require.NoError(t, c.Set(ctx, key, []byte("1"), time.Minute))
	_, ok, _ := c.Get(ctx, key)
	assert.True(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("get", "miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("get", "hit")))
}

func TestNewResilientDoesNotDoubleWrap(t *testing.T) {
	r := NewResilient(Noop{}, nil, nil)
	assert.Same(t, r, NewResilient(r, nil, nil))
}
