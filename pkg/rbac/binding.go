package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/storage"
)

// Binding manages the user to role association.
type Binding struct {
	db      *sql.DB
	dialect storage.Dialect
	q       Schema
	inv     *invalidator
	now     func() time.Time
	logger  logrus.FieldLogger
}

// Assign records that userID holds roleID. A duplicate pair, or a role that
// does not exist where the database enforces it, fails with a
// ConstraintError; callers wanting idempotence check RoleIDs first.
func (b *Binding) Assign(ctx context.Context, userID, roleID int64) error {
	ur := b.q.UserRoles
	a := storage.NewArgs(b.dialect)
	query := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s)",
		ur.Table, ur.UserID, ur.RoleID, ur.AssignedAt, a.Add(userID), a.Add(roleID), a.Add(b.now().Unix()))

	b.inv.invalidate(ctx)
	_, err := b.db.ExecContext(ctx, query, a.Values()...)
	b.inv.invalidate(ctx)

	if err != nil {
		if b.dialect.IsConstraintViolation(err) {
			return &ConstraintError{Op: "assign", Err: fmt.Errorf("user %d already holds role %d or role is missing: %w", userID, roleID, err)}
		}
		return &StorageError{Op: "assign", Err: err}
	}

	b.logger.WithFields(logrus.Fields{"user_id": userID, "role_id": roleID}).Debug("Role assigned")
	return nil
}

// DeAssign removes the pair and returns how many rows were deleted; a missing
// pair is not an error.
func (b *Binding) DeAssign(ctx context.Context, userID, roleID int64) (int64, error) {
	ur := b.q.UserRoles
	a := storage.NewArgs(b.dialect)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		ur.Table, ur.UserID, a.Add(userID), ur.RoleID, a.Add(roleID))
	return b.exec(ctx, "deAssign", query, a.Values())
}

// DeleteRoleFromUsers removes every assignment of userID.
func (b *Binding) DeleteRoleFromUsers(ctx context.Context, userID int64) (int64, error) {
	ur := b.q.UserRoles
	a := storage.NewArgs(b.dialect)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", ur.Table, ur.UserID, a.Add(userID))
	return b.exec(ctx, "deleteRoleFromUsers", query, a.Values())
}

func (b *Binding) exec(ctx context.Context, op, query string, args []any) (int64, error) {
	b.inv.invalidate(ctx)
	res, err := b.db.ExecContext(ctx, query, args...)
	b.inv.invalidate(ctx)
	if err != nil {
		return 0, &StorageError{Op: op, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: op, Err: err}
	}
	return n, nil
}

// RoleIDs returns the ids of the roles userID holds, in ascending order. The
// result is memoized for the request when ctx carries a request scope.
func (b *Binding) RoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	scope := scopeFrom(ctx)
	if scope != nil {
		if ids, ok := scope.get(userID); ok {
			return ids, nil
		}
	}

	ur := b.q.UserRoles
	a := storage.NewArgs(b.dialect)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		ur.RoleID, ur.Table, ur.UserID, a.Add(userID), ur.RoleID)

	rows, err := b.db.QueryContext(ctx, query, a.Values()...)
	if err != nil {
		return nil, &StorageError{Op: "getRoleIds", Err: err}
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "getRoleIds", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "getRoleIds", Err: err}
	}

	if scope != nil {
		scope.put(userID, ids)
	}
	return ids, nil
}

// Roles returns the role rows userID holds, in pre-order.
func (b *Binding) Roles(ctx context.Context, userID int64) ([]Role, error) {
	r, ur := b.q.Roles, b.q.UserRoles
	mapper := roleMapper(b.q)
	a := storage.NewArgs(b.dialect)
	query := fmt.Sprintf("SELECT r.%s, r.%s, r.%s, COALESCE(r.%s, 0), r.%s, r.%s FROM %s r INNER JOIN %s ur ON ur.%s = r.%s WHERE ur.%s = %s ORDER BY r.%s",
		r.ID, r.Name, r.Type, r.ParentID, r.Left, r.Right, r.Table, ur.Table, ur.RoleID, r.ID, ur.UserID, a.Add(userID), r.Left)

	rows, err := b.db.QueryContext(ctx, query, a.Values()...)
	if err != nil {
		return nil, &StorageError{Op: "getRoles", Err: err}
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		role, err := mapper.scan(rows)
		if err != nil {
			return nil, &StorageError{Op: "getRoles", Err: err}
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "getRoles", Err: err}
	}
	return out, nil
}

// RoleCount returns how many roles userID holds.
func (b *Binding) RoleCount(ctx context.Context, userID int64) (int, error) {
	ur := b.q.UserRoles
	a := storage.NewArgs(b.dialect)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", ur.Table, ur.UserID, a.Add(userID))

	var n int
	if err := b.db.QueryRowContext(ctx, query, a.Values()...).Scan(&n); err != nil {
		return 0, &StorageError{Op: "roleCount", Err: err}
	}
	return n, nil
}
