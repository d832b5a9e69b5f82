package rbac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/cache"
	"github.com/platinummonkey/arbor/pkg/observability"
)

const (
	rolesComponent = "Permissions:Rbac:Roles"
	userComponent  = "Permissions:Rbac:User"
)

var (
	// keyRoleScope holds the generation token for every role directory
	// entry.
	keyRoleScope = cache.NewKey(rolesComponent, "scope")

	keyHasPage         = cache.NewKey(userComponent, "hasPagePermission")
	keyHasObject       = cache.NewKey(userComponent, "hasObjectPermission")
	keyHasElement      = cache.NewKey(userComponent, "hasElementPermission")
	keyPagePermissions = cache.NewKey(userComponent, "getPagePermissions")
)

// invalidationKeys is the fixed set dropped by every write. Each is a
// generation key and takes every entry derived from it along.
func invalidationKeys() []cache.Key {
	return []cache.Key{
		keyRoleScope,
		keyHasPage,
		keyHasObject,
		keyHasElement,
		keyPagePermissions,
	}
}

func rolesKey(gen string) cache.Key {
	return keyRoleScope.With(gen, "getRoles")
}

func rootKey(gen string) cache.Key {
	return keyRoleScope.With(gen, "getRoot")
}

func siblingsKey(gen string, roleID int64) cache.Key {
	return keyRoleScope.With(gen, "getSiblings", roleID)
}

func usersKey(gen string, roleID int64) cache.Key {
	return keyRoleScope.With(gen, "getUsers", roleID)
}

func permissionsKey(gen string, roleID int64) cache.Key {
	return keyRoleScope.With(gen, "getPermissions", roleID)
}

// checkKey scopes a permission-check result below a generation token. The
// arguments are hashed so free-form resource and permission names cannot
// collide with the key separator.
func checkKey(base cache.Key, gen string, args ...any) cache.Key {
	raw, _ := json.Marshal(args)
	sum := sha256.Sum256(raw)
	return base.With(gen, hex.EncodeToString(sum[:16]))
}

// invalidator drops the fixed key set. Every writer shares one.
type invalidator struct {
	loader  *cache.Loader
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

func (i *invalidator) invalidate(ctx context.Context) {
	// Delete never fails through a Resilient cache; errors are logged there.
	_ = i.loader.Invalidate(ctx, invalidationKeys()...)
	i.metrics.RecordInvalidation()
	forgetRoles(ctx)
}
