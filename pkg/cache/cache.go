// Package cache provides the key-value collaborator used for read-through
// caching of role and permission queries.
//
// Backends implement Cache. Resilient wraps any backend so that failures are
// logged and counted and then treated as misses; authorization never depends
// on cache availability. Loader layers the read-through protocol on top,
// including the Empty sentinel and generation-scoped key families.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidKey is returned for a zero Key.
var ErrInvalidKey = errors.New("invalid cache key")

// Cache is a byte-oriented key-value store with per-entry expiration.
// Get reports a miss with ok == false and a nil error.
type Cache interface {
	Get(ctx context.Context, key Key) (value []byte, ok bool, err error)
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...Key) error
}

// Key is an opaque cache key built from a component, a method and optional
// identifiers. Keys are only constructed through NewKey so every key in the
// system shares one layout.
type Key struct {
	s string
}

const keySeparator = ":"

// NewKey joins component, method and ids with ':'.
func NewKey(component, method string, ids ...any) Key {
	parts := make([]string, 0, 2+len(ids))
	parts = append(parts, component, method)
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return Key{s: strings.Join(parts, keySeparator)}
}

// With derives a key scoped below k.
func (k Key) With(ids ...any) Key {
	if len(ids) == 0 {
		return k
	}
	parts := make([]string, 0, 1+len(ids))
	parts = append(parts, k.s)
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return Key{s: strings.Join(parts, keySeparator)}
}

func (k Key) String() string { return k.s }

func (k Key) IsZero() bool { return k.s == "" }

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, Key) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, Key, []byte, time.Duration) error { return nil }

func (Noop) Delete(context.Context, ...Key) error { return nil }
