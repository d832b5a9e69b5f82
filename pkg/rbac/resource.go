package rbac

import (
	"context"
	"sync"
)

// Resource holds the identifier of the page or route being checked.
type Resource struct {
	mu sync.RWMutex
	id string
}

func NewResource(id string) *Resource {
	return &Resource{id: id}
}

func (r *Resource) Set(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = id
}

// ID returns the current resource, or ErrResourceUnset.
func (r *Resource) ID() (string, error) {
	if r == nil {
		return "", ErrResourceUnset
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.id == "" {
		return "", ErrResourceUnset
	}
	return r.id, nil
}

type resourceKey struct{}

// WithResource attaches the current resource to ctx.
func WithResource(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, resourceKey{}, NewResource(id))
}

// ResourceFromContext returns the resource attached by WithResource.
func ResourceFromContext(ctx context.Context) (string, error) {
	r, _ := ctx.Value(resourceKey{}).(*Resource)
	return r.ID()
}
