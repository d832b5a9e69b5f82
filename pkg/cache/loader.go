package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Empty is stored in place of a result that is known to be empty, so a
// confirmed-empty answer is distinguishable from an entry that was never
// computed.
var Empty = []byte("empty")

// DefaultTTL is the expiration applied when a Loader is built with ttl <= 0.
const DefaultTTL = 7200 * time.Second

// DefaultGenerationTTL is the lifetime of a generation token. An
// invalidation lost to a cache outage stops being visible once the token
// expires.
const DefaultGenerationTTL = 5 * time.Minute

// Loader implements the read-through protocol over a Cache.
type Loader struct {
	cache  Cache
	ttl    time.Duration
	genTTL time.Duration
	group  singleflight.Group
}

// NewLoader builds a Loader storing entries for ttl.
func NewLoader(c Cache, ttl time.Duration) *Loader {
	if c == nil {
		c = Noop{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Loader{cache: c, ttl: ttl, genTTL: min(ttl, DefaultGenerationTTL)}
}

// WithGenerationTTL sets the lifetime of generation tokens, capped at the
// entry TTL. d <= 0 keeps the current value.
func (l *Loader) WithGenerationTTL(d time.Duration) *Loader {
	if d > 0 {
		l.genTTL = min(d, l.ttl)
	}
	return l
}

func (l *Loader) Cache() Cache { return l.cache }

func (l *Loader) TTL() time.Duration { return l.ttl }

func (l *Loader) GenerationTTL() time.Duration { return l.genTTL }

// Invalidate deletes keys.
func (l *Loader) Invalidate(ctx context.Context, keys ...Key) error {
	return l.cache.Delete(ctx, keys...)
}

// Generation returns the token stored at key, creating one on a miss. Keys
// derived from the token form a family that is dropped as a whole by deleting
// key.
func (l *Loader) Generation(ctx context.Context, key Key) string {
	raw, ok, err := l.cache.Get(ctx, key)
	if err == nil && ok && len(raw) > 0 {
		return string(raw)
	}
	token := uuid.NewString()
	_ = l.cache.Set(ctx, key, []byte(token), l.genTTL)
	return token
}

// Fetch returns the value cached at key, or calls load, caches its result and
// returns it. Results for which empty reports true are cached as Empty and
// returned as the zero value. Cache errors are treated as misses; only load
// errors are returned.
//
// Concurrent misses on one key share a single load. The load runs detached
// from the cancellation of the caller that started it; each caller stops
// waiting when its own ctx is done.
func Fetch[T any](ctx context.Context, l *Loader, key Key, load func(context.Context) (T, error), empty func(T) bool) (T, error) {
	var zero T

	raw, ok, err := l.cache.Get(ctx, key)
	if err == nil && ok {
		if bytes.Equal(raw, Empty) {
			return zero, nil
		}
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		// undecodable entries are recomputed
	}

	ch := l.group.DoChan(key.String(), func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if empty != nil && empty(v) {
			_ = l.cache.Set(ctx, key, Empty, l.ttl)
			return v, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cache entry: %w", err)
		}
		_ = l.cache.Set(ctx, key, data, l.ttl)
		return v, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if res.Err != nil {
		return zero, res.Err
	}
	v, _ := res.Val.(T)
	if empty != nil && empty(v) {
		return zero, nil
	}
	return v, nil
}

// EmptySlice reports whether a slice result is empty.
func EmptySlice[E any](v []E) bool {
	return len(v) == 0
}
