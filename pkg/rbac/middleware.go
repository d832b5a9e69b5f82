package rbac

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/httputil"
	"github.com/platinummonkey/arbor/pkg/observability"
)

// UserIDHeader carries the authenticated user id set by an upstream
// authenticator.
const UserIDHeader = "X-User-ID"

// UserIDFunc extracts the caller's user id from a request. ok is false when
// the request is unauthenticated.
type UserIDFunc func(r *http.Request) (userID int64, ok bool)

// HeaderUserID reads the user id from UserIDHeader.
func HeaderUserID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(UserIDHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Guard protects HTTP routes with page checks.
type Guard struct {
	resolver *Resolver
	userID   UserIDFunc
	logger   logrus.FieldLogger
}

// NewGuard builds a Guard. A nil userID reads HeaderUserID.
func NewGuard(resolver *Resolver, userID UserIDFunc, logger logrus.FieldLogger) *Guard {
	if userID == nil {
		userID = HeaderUserID
	}
	return &Guard{resolver: resolver, userID: userID, logger: logger}
}

// RequestScope memoizes role ids for the rest of the request.
func (g *Guard) RequestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequestScope(r.Context())))
	})
}

// RequirePage sets resource as the current resource and rejects the request
// unless the caller may perform one of ops on it.
func (g *Guard) RequirePage(resource string, ops ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := g.userID(r)
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			ctx := WithResource(WithRequestScope(r.Context()), resource)
			allowed, err := g.resolver.HasPageAccess(ctx, userID, ops...)
			if err != nil {
				observability.FromContext(ctx, g.logger).WithError(err).WithFields(logrus.Fields{
					"user_id":  userID,
					"resource": resource,
				}).Error("Permission check failed")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Permission check failed")
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
