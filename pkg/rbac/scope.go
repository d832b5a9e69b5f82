package rbac

import (
	"context"
	"sync"
)

type scopeKey struct{}

// requestScope memoizes role ids for the lifetime of one request.
type requestScope struct {
	mu      sync.Mutex
	roleIDs map[int64][]int64
}

// WithRequestScope returns a context in which RoleIDs results are memoized.
// Middleware calls it once per request.
func WithRequestScope(ctx context.Context) context.Context {
	if _, ok := ctx.Value(scopeKey{}).(*requestScope); ok {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, &requestScope{roleIDs: make(map[int64][]int64)})
}

func scopeFrom(ctx context.Context) *requestScope {
	s, _ := ctx.Value(scopeKey{}).(*requestScope)
	return s
}

func (s *requestScope) get(userID int64) ([]int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.roleIDs[userID]
	return ids, ok
}

func (s *requestScope) put(userID int64, ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleIDs[userID] = ids
}

// forgetRoles clears the memo of the request in ctx, if any.
func forgetRoles(ctx context.Context) {
	if s := scopeFrom(ctx); s != nil {
		s.mu.Lock()
		s.roleIDs = make(map[int64][]int64)
		s.mu.Unlock()
	}
}
