package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/cache"
	"github.com/platinummonkey/arbor/pkg/storage"
)

// Directory is the cached, domain-level view of the role tree. Reads go
// through the cache under a generation token read before the query; every
// write drops the generation keys both before and after it touches the
// database. A reader racing the write stores its result under a token the
// second drop has already retired, so the old state is never served again.
type Directory struct {
	tree    *Tree[Role]
	db      *sql.DB
	dialect storage.Dialect
	q       Schema
	loader  *cache.Loader
	inv     *invalidator
	logger  logrus.FieldLogger
}

// Tree exposes the underlying role tree for uncached structural queries.
func (d *Directory) Tree() *Tree[Role] {
	return d.tree
}

// GetAllRoles returns every role in pre-order.
func (d *Directory) GetAllRoles(ctx context.Context) ([]Role, error) {
	key := rolesKey(d.loader.Generation(ctx, keyRoleScope))
	return cache.Fetch(ctx, d.loader, key, d.tree.GetAllTree, cache.EmptySlice[Role])
}

// GetRoot returns the top-level roles.
func (d *Directory) GetRoot(ctx context.Context) ([]Role, error) {
	key := rootKey(d.loader.Generation(ctx, keyRoleScope))
	return cache.Fetch(ctx, d.loader, key, d.tree.GetRoot, cache.EmptySlice[Role])
}

// GetSiblings returns the roles sharing roleID's parent, roleID included.
func (d *Directory) GetSiblings(ctx context.Context, roleID int64) ([]Role, error) {
	key := siblingsKey(d.loader.Generation(ctx, keyRoleScope), roleID)
	return cache.Fetch(ctx, d.loader, key, func(ctx context.Context) ([]Role, error) {
		return d.tree.GetSiblings(ctx, roleID)
	}, cache.EmptySlice[Role])
}

// GetUsers returns the assignments of roleID ordered by user id.
func (d *Directory) GetUsers(ctx context.Context, roleID int64) ([]Assignment, error) {
	key := usersKey(d.loader.Generation(ctx, keyRoleScope), roleID)
	return cache.Fetch(ctx, d.loader, key, func(ctx context.Context) ([]Assignment, error) {
		return d.queryUsers(ctx, roleID)
	}, cache.EmptySlice[Assignment])
}

// GetPermissions returns the permissions granted to roleID in pre-order.
func (d *Directory) GetPermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	key := permissionsKey(d.loader.Generation(ctx, keyRoleScope), roleID)
	return cache.Fetch(ctx, d.loader, key, func(ctx context.Context) ([]Permission, error) {
		return d.queryPermissions(ctx, roleID)
	}, cache.EmptySlice[Permission])
}

// AddRoot creates a top-level role.
func (d *Directory) AddRoot(ctx context.Context, name string, extra Extra) (int64, error) {
	return d.writeID(ctx, func() (int64, error) {
		return d.tree.InsertRoot(ctx, name, extra)
	})
}

// Add creates a role as the first child of parentID.
func (d *Directory) Add(ctx context.Context, parentID int64, name string, extra Extra) (int64, error) {
	return d.writeID(ctx, func() (int64, error) {
		return d.tree.InsertChild(ctx, parentID, name, extra)
	})
}

// Append creates a role as the last child of parentID.
func (d *Directory) Append(ctx context.Context, parentID int64, name string, extra Extra) (int64, error) {
	return d.writeID(ctx, func() (int64, error) {
		return d.tree.AppendChild(ctx, parentID, name, extra)
	})
}

func (d *Directory) MoveAsFirstChild(ctx context.Context, sourceID, targetID int64) error {
	return d.Move(ctx, sourceID, targetID, FirstChild)
}

func (d *Directory) MoveAsLastChild(ctx context.Context, sourceID, targetID int64) error {
	return d.Move(ctx, sourceID, targetID, LastChild)
}

func (d *Directory) MoveAsNextSibling(ctx context.Context, sourceID, targetID int64) error {
	return d.Move(ctx, sourceID, targetID, NextSibling)
}

func (d *Directory) MoveAsPrevSibling(ctx context.Context, sourceID, targetID int64) error {
	return d.Move(ctx, sourceID, targetID, PrevSibling)
}

// Move relocates the subtree rooted at sourceID relative to targetID.
func (d *Directory) Move(ctx context.Context, sourceID, targetID int64, pos Position) error {
	return d.write(ctx, func() error {
		return d.tree.Move(ctx, sourceID, targetID, pos)
	})
}

// Update changes the name or extra fields of a role.
func (d *Directory) Update(ctx context.Context, roleID int64, fields Extra) error {
	return d.write(ctx, func() error {
		return d.tree.Update(ctx, roleID, fields)
	})
}

// Delete removes a role. In one transaction, and for every role being
// removed (the whole subtree under CascadeSubtree), it deletes the operation
// grants, then the user assignments, then the permission grants, and finally
// the tree nodes. The cache is invalidated before anything is touched.
// RejectChildren refuses non-leaf roles with a ConstraintError.
func (d *Directory) Delete(ctx context.Context, roleID int64, policy DeletePolicy) ([]int64, error) {
	var removed []int64
	err := d.write(ctx, func() error {
		var err error
		removed, err = d.tree.DeleteNode(ctx, roleID, policy, d.deleteAssociations)
		return err
	})
	if err == nil {
		d.logger.WithFields(logrus.Fields{
			"role_id": roleID,
			"policy":  policy.String(),
			"removed": len(removed),
		}).Info("Role deleted")
	}
	return removed, err
}

func (d *Directory) deleteAssociations(ctx context.Context, tx *sql.Tx, ids []int64) error {
	q := d.q
	steps := []struct {
		op, table, column string
	}{
		{"deleteOpAssignments", q.OpPermissions.Table, q.OpPermissions.RoleID},
		{"deleteUserAssignments", q.UserRoles.Table, q.UserRoles.RoleID},
		{"deletePermissionAssignments", q.RolePermissions.Table, q.RolePermissions.RoleID},
	}
	for _, step := range steps {
		a := storage.NewArgs(d.dialect)
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", step.table, step.column, a.AddIn(storage.InList(ids)...))
		if _, err := tx.ExecContext(ctx, query, a.Values()...); err != nil {
			return &StorageError{Op: step.op, Err: err}
		}
	}
	return nil
}

func (d *Directory) write(ctx context.Context, fn func() error) error {
	d.inv.invalidate(ctx)
	err := fn()
	d.inv.invalidate(ctx)
	return err
}

func (d *Directory) writeID(ctx context.Context, fn func() (int64, error)) (int64, error) {
	var id int64
	err := d.write(ctx, func() error {
		var err error
		id, err = fn()
		return err
	})
	return id, err
}

func (d *Directory) queryUsers(ctx context.Context, roleID int64) ([]Assignment, error) {
	ur := d.q.UserRoles
	a := storage.NewArgs(d.dialect)
	query := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s = %s ORDER BY %s",
		ur.UserID, ur.RoleID, ur.AssignedAt, ur.Table, ur.RoleID, a.Add(roleID), ur.UserID)

	rows, err := d.db.QueryContext(ctx, query, a.Values()...)
	if err != nil {
		return nil, &StorageError{Op: "getUsers", Err: err}
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var as Assignment
		if err := rows.Scan(&as.UserID, &as.RoleID, &as.AssignedAt); err != nil {
			return nil, &StorageError{Op: "getUsers", Err: err}
		}
		out = append(out, as)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "getUsers", Err: err}
	}
	return out, nil
}

func (d *Directory) queryPermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	p, rp := d.q.Permissions, d.q.RolePermissions
	mapper := permissionMapper(d.q)
	a := storage.NewArgs(d.dialect)
	query := fmt.Sprintf("SELECT n.%s, n.%s, n.%s, n.%s, COALESCE(n.%s, 0), n.%s, n.%s, n.%s FROM %s n INNER JOIN %s rp ON rp.%s = n.%s WHERE rp.%s = %s ORDER BY n.%s",
		p.ID, p.Name, p.Resource, p.Type, p.ParentID, p.Left, p.Right, p.Menu,
		p.Table, rp.Table, rp.PermissionID, p.ID, rp.RoleID, a.Add(roleID), p.Left)

	rows, err := d.db.QueryContext(ctx, query, a.Values()...)
	if err != nil {
		return nil, &StorageError{Op: "getPermissions", Err: err}
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		perm, err := mapper.scan(rows)
		if err != nil {
			return nil, &StorageError{Op: "getPermissions", Err: err}
		}
		out = append(out, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "getPermissions", Err: err}
	}
	return out, nil
}
