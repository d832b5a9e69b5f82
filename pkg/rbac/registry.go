package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/storage"
)

// Registry administers the permission tree, the operation vocabulary and the
// grants linking them to roles.
type Registry struct {
	perms   *Tree[Permission]
	db      *sql.DB
	dialect storage.Dialect
	q       Schema
	inv     *invalidator
	logger  logrus.FieldLogger
}

// Permissions exposes the permission tree for structural queries.
func (r *Registry) Permissions() *Tree[Permission] {
	return r.perms
}

// AddPermission creates a permission. A zero ParentID creates a root,
// otherwise the permission becomes the last child of ParentID.
func (r *Registry) AddPermission(ctx context.Context, in PermissionInput) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.write(ctx, func() error {
		var err error
		if in.ParentID == 0 {
			id, err = r.perms.InsertRoot(ctx, in.Name, in.extra())
		} else {
			id, err = r.perms.AppendChild(ctx, in.ParentID, in.Name, in.extra())
		}
		return err
	})
	return id, err
}

// MovePermission relocates the permission subtree rooted at sourceID.
func (r *Registry) MovePermission(ctx context.Context, sourceID, targetID int64, pos Position) error {
	return r.write(ctx, func() error {
		return r.perms.Move(ctx, sourceID, targetID, pos)
	})
}

// UpdatePermission changes the name, resource, type or menu flag.
func (r *Registry) UpdatePermission(ctx context.Context, id int64, fields Extra) error {
	if menu, ok := fields[FieldMenu].(bool); ok {
		fields = copyExtra(fields)
		fields[FieldMenu] = boolInt(menu)
	}
	if typ, ok := fields[FieldType]; ok && typ != TypePage && typ != TypeObject {
		return fmt.Errorf("%w: permission type %v", ErrInvalidInput, typ)
	}
	return r.write(ctx, func() error {
		return r.perms.Update(ctx, id, fields)
	})
}

// DeletePermission removes a permission along with its role and operation
// grants.
func (r *Registry) DeletePermission(ctx context.Context, id int64, policy DeletePolicy) ([]int64, error) {
	var removed []int64
	err := r.write(ctx, func() error {
		var err error
		removed, err = r.perms.DeleteNode(ctx, id, policy, r.deleteGrants)
		return err
	})
	return removed, err
}

func (r *Registry) deleteGrants(ctx context.Context, tx *sql.Tx, ids []int64) error {
	q := r.q
	steps := []struct {
		op, table, column string
	}{
		{"deleteOpGrants", q.OpPermissions.Table, q.OpPermissions.PermissionID},
		{"deleteRoleGrants", q.RolePermissions.Table, q.RolePermissions.PermissionID},
	}
	for _, step := range steps {
		a := storage.NewArgs(r.dialect)
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", step.table, step.column, a.AddIn(storage.InList(ids)...))
		if _, err := tx.ExecContext(ctx, query, a.Values()...); err != nil {
			return &StorageError{Op: step.op, Err: err}
		}
	}
	return nil
}

// GetPermissionTree returns every permission in pre-order.
func (r *Registry) GetPermissionTree(ctx context.Context) ([]Permission, error) {
	return r.perms.GetAllTree(ctx)
}

// Permission returns one permission.
func (r *Registry) Permission(ctx context.Context, id int64) (Permission, error) {
	return r.perms.GetNode(ctx, id)
}

// AddOperation registers an operation name and returns its id.
func (r *Registry) AddOperation(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: operation name is required", ErrInvalidInput)
	}
	o := r.q.Operations
	a := storage.NewArgs(r.dialect)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s", o.Table, o.Name, a.Add(name), o.ID)

	var id int64
	err := r.write(ctx, func() error {
		if err := r.db.QueryRowContext(ctx, query, a.Values()...).Scan(&id); err != nil {
			return r.writeErr("addOperation", err)
		}
		return nil
	})
	return id, err
}

// Operations lists every operation ordered by name.
func (r *Registry) Operations(ctx context.Context) ([]Operation, error) {
	o := r.q.Operations
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s", o.ID, o.Name, o.Table, o.Name)
	return r.scanOperations(ctx, "operations", query, nil)
}

// OperationIDs resolves operation names. Unknown names are skipped.
func (r *Registry) OperationIDs(ctx context.Context, names ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	if len(names) == 0 {
		return out, nil
	}
	o := r.q.Operations
	a := storage.NewArgs(r.dialect)
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)", o.ID, o.Name, o.Table, o.Name, a.AddIn(storage.InList(names)...))
	ops, err := r.scanOperations(ctx, "operationIds", query, a.Values())
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		out[op.Name] = op.ID
	}
	return out, nil
}

func (r *Registry) scanOperations(ctx context.Context, op, query string, args []any) ([]Operation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var o Operation
		if err := rows.Scan(&o.ID, &o.Name); err != nil {
			return nil, &StorageError{Op: op, Err: err}
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	return out, nil
}

// DeleteOperation removes an operation and every grant naming it.
func (r *Registry) DeleteOperation(ctx context.Context, id int64) error {
	o, op := r.q.Operations, r.q.OpPermissions
	return r.write(ctx, func() error {
		return storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
			a := storage.NewArgs(r.dialect)
			query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", op.Table, op.OperationID, a.Add(id))
			if _, err := tx.ExecContext(ctx, query, a.Values()...); err != nil {
				return &StorageError{Op: "deleteOperation", Err: err}
			}

			a = storage.NewArgs(r.dialect)
			query = fmt.Sprintf("DELETE FROM %s WHERE %s = %s", o.Table, o.ID, a.Add(id))
			res, err := tx.ExecContext(ctx, query, a.Values()...)
			if err != nil {
				return &StorageError{Op: "deleteOperation", Err: err}
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("%w: operation %d", ErrNotFound, id)
			}
			return nil
		})
	})
}

// Grant attaches a permission to a role.
func (r *Registry) Grant(ctx context.Context, roleID, permissionID int64) error {
	rp := r.q.RolePermissions
	a := storage.NewArgs(r.dialect)
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		rp.Table, rp.RoleID, rp.PermissionID, a.Add(roleID), a.Add(permissionID))
	return r.exec(ctx, "grant", query, a.Values())
}

// Revoke detaches a permission from a role.
func (r *Registry) Revoke(ctx context.Context, roleID, permissionID int64) error {
	rp := r.q.RolePermissions
	a := storage.NewArgs(r.dialect)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		rp.Table, rp.RoleID, a.Add(roleID), rp.PermissionID, a.Add(permissionID))
	return r.exec(ctx, "revoke", query, a.Values())
}

// GrantOperation allows roleID to perform operationID on permissionID.
func (r *Registry) GrantOperation(ctx context.Context, roleID, permissionID, operationID int64) error {
	op := r.q.OpPermissions
	a := storage.NewArgs(r.dialect)
	query := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s)",
		op.Table, op.OperationID, op.PermissionID, op.RoleID, a.Add(operationID), a.Add(permissionID), a.Add(roleID))
	return r.exec(ctx, "grantOperation", query, a.Values())
}

// RevokeOperation removes one operation grant.
func (r *Registry) RevokeOperation(ctx context.Context, roleID, permissionID, operationID int64) error {
	op := r.q.OpPermissions
	a := storage.NewArgs(r.dialect)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s AND %s = %s",
		op.Table, op.OperationID, a.Add(operationID), op.PermissionID, a.Add(permissionID), op.RoleID, a.Add(roleID))
	return r.exec(ctx, "revokeOperation", query, a.Values())
}

func (r *Registry) exec(ctx context.Context, op, query string, args []any) error {
	return r.write(ctx, func() error {
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return r.writeErr(op, err)
		}
		return nil
	})
}

func (r *Registry) write(ctx context.Context, fn func() error) error {
	r.inv.invalidate(ctx)
	err := fn()
	r.inv.invalidate(ctx)
	return err
}

func (r *Registry) writeErr(op string, err error) error {
	if r.dialect.IsConstraintViolation(err) {
		return &ConstraintError{Op: op, Err: err}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return &StorageError{Op: op, Err: err}
}

func copyExtra(e Extra) Extra {
	out := make(Extra, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
