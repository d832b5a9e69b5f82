package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/nestedset"
	"github.com/platinummonkey/arbor/pkg/observability"
	"github.com/platinummonkey/arbor/pkg/storage"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// rowMapper turns the select list of a tree table into T.
type rowMapper[T any] struct {
	columns []string
	scan    func(rowScanner) (T, error)
}

// BeforeRemove runs inside the delete transaction, before the nodes listed in
// ids are removed.
type BeforeRemove func(ctx context.Context, tx *sql.Tx, ids []int64) error

var tableLocks sync.Map

// tableLock returns the process-wide mutex for one table of one pool.
func tableLock(db *sql.DB, table string) *sync.Mutex {
	mu, _ := tableLocks.LoadOrStore(fmt.Sprintf("%p/%s", db, table), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Tree stores a forest in a nested-set table. Mutations are serialized per
// table by a mutex and, on databases that need it, a table lock held for the
// whole transaction. Reads never lock.
type Tree[T any] struct {
	db      *sql.DB
	dialect storage.Dialect
	table   TreeTable
	q       TreeTable
	mapper  rowMapper[T]
	mu      *sync.Mutex
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

func newTree[T any](db *sql.DB, dialect storage.Dialect, table TreeTable, mapper rowMapper[T], logger logrus.FieldLogger, metrics *observability.Metrics) *Tree[T] {
	q := TreeTable{
		Table:    dialect.Protect(table.Table),
		ID:       dialect.Protect(table.ID),
		Name:     dialect.Protect(table.Name),
		ParentID: dialect.Protect(table.ParentID),
		Left:     dialect.Protect(table.Left),
		Right:    dialect.Protect(table.Right),
		Extra:    make(map[string]string, len(table.Extra)),
	}
	for field, col := range table.Extra {
		q.Extra[field] = dialect.Protect(col)
	}
	return &Tree[T]{
		db:      db,
		dialect: dialect,
		table:   table,
		q:       q,
		mapper:  mapper,
		mu:      tableLock(db, table.Table),
		logger:  logger.WithField("table", table.Table),
		metrics: metrics,
	}
}

// Table returns the unquoted table name.
func (t *Tree[T]) Table() string {
	return t.table.Table
}

// selectList renders the mapper columns qualified by alias. The parent
// column reads NULL as 0.
func (t *Tree[T]) selectList(alias string) string {
	cols := make([]string, len(t.mapper.columns))
	for i, c := range t.mapper.columns {
		col := alias + "." + t.dialect.Protect(c)
		if c == t.table.ParentID {
			col = "COALESCE(" + col + ", 0)"
		}
		cols[i] = col
	}
	return strings.Join(cols, ", ")
}

func (t *Tree[T]) query(ctx context.Context, op, query string, args ...any) ([]T, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := t.mapper.scan(rows)
		if err != nil {
			return nil, &StorageError{Op: op, Err: err}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	return out, nil
}

// GetAllTree returns every node in pre-order.
func (t *Tree[T]) GetAllTree(ctx context.Context) ([]T, error) {
	q := fmt.Sprintf("SELECT %s FROM %s n ORDER BY n.%s", t.selectList("n"), t.q.Table, t.q.Left)
	return t.query(ctx, "getAllTree", q)
}

// GetRoot returns the nodes without a parent.
func (t *Tree[T]) GetRoot(ctx context.Context) ([]T, error) {
	q := fmt.Sprintf("SELECT %s FROM %s n WHERE n.%s IS NULL OR n.%s = 0 ORDER BY n.%s",
		t.selectList("n"), t.q.Table, t.q.ParentID, t.q.ParentID, t.q.Left)
	return t.query(ctx, "getRoot", q)
}

// GetSiblings returns every node sharing id's parent, id included, in
// pre-order. An unknown id yields no rows.
func (t *Tree[T]) GetSiblings(ctx context.Context, id int64) ([]T, error) {
	a := storage.NewArgs(t.dialect)
	q := fmt.Sprintf("SELECT %s FROM %s n WHERE COALESCE(n.%s, 0) = (SELECT COALESCE(s.%s, 0) FROM %s s WHERE s.%s = %s) ORDER BY n.%s",
		t.selectList("n"), t.q.Table, t.q.ParentID, t.q.ParentID, t.q.Table, t.q.ID, a.Add(id), t.q.Left)
	return t.query(ctx, "getSiblings", q, a.Values()...)
}

// GetChildren returns the direct children of id in pre-order.
func (t *Tree[T]) GetChildren(ctx context.Context, id int64) ([]T, error) {
	a := storage.NewArgs(t.dialect)
	q := fmt.Sprintf("SELECT %s FROM %s n WHERE n.%s = %s ORDER BY n.%s",
		t.selectList("n"), t.q.Table, t.q.ParentID, a.Add(id), t.q.Left)
	return t.query(ctx, "getChildren", q, a.Values()...)
}

// GetAncestors returns the ancestors of id from the root down.
func (t *Tree[T]) GetAncestors(ctx context.Context, id int64) ([]T, error) {
	a := storage.NewArgs(t.dialect)
	q := fmt.Sprintf("SELECT %s FROM %s n INNER JOIN %s c ON n.%s < c.%s AND c.%s < n.%s WHERE c.%s = %s ORDER BY n.%s",
		t.selectList("n"), t.q.Table, t.q.Table, t.q.Left, t.q.Left, t.q.Right, t.q.Right, t.q.ID, a.Add(id), t.q.Left)
	return t.query(ctx, "getAncestors", q, a.Values()...)
}

// GetDescendants returns the descendants of id in pre-order.
func (t *Tree[T]) GetDescendants(ctx context.Context, id int64) ([]T, error) {
	a := storage.NewArgs(t.dialect)
	q := fmt.Sprintf("SELECT %s FROM %s n INNER JOIN %s p ON p.%s < n.%s AND n.%s < p.%s WHERE p.%s = %s ORDER BY n.%s",
		t.selectList("n"), t.q.Table, t.q.Table, t.q.Left, t.q.Left, t.q.Right, t.q.Right, t.q.ID, a.Add(id), t.q.Left)
	return t.query(ctx, "getDescendants", q, a.Values()...)
}

// GetNode returns one node or ErrNotFound.
func (t *Tree[T]) GetNode(ctx context.Context, id int64) (T, error) {
	var zero T
	a := storage.NewArgs(t.dialect)
	q := fmt.Sprintf("SELECT %s FROM %s n WHERE n.%s = %s", t.selectList("n"), t.q.Table, t.q.ID, a.Add(id))
	v, err := t.mapper.scan(t.db.QueryRowContext(ctx, q, a.Values()...))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, fmt.Errorf("%w: %s %d", ErrNotFound, t.table.Table, id)
	}
	if err != nil {
		return zero, &StorageError{Op: "getNode", Err: err}
	}
	return v, nil
}

// Verify loads the structural columns and checks the nested-set invariant.
func (t *Tree[T]) Verify(ctx context.Context) error {
	snap, err := t.snapshot(ctx, t.db)
	if err != nil {
		return err
	}
	return snap.Validate()
}

// InsertRoot creates a top-level node after every existing interval.
func (t *Tree[T]) InsertRoot(ctx context.Context, name string, extra Extra) (int64, error) {
	return t.insert(ctx, "insertRoot", name, extra, func(s *nestedset.Snapshot) (nestedset.Plan, error) {
		return s.PlanInsertRoot(), nil
	})
}

// InsertChild creates a node as the first child of parentID.
func (t *Tree[T]) InsertChild(ctx context.Context, parentID int64, name string, extra Extra) (int64, error) {
	return t.insert(ctx, "insertChild", name, extra, func(s *nestedset.Snapshot) (nestedset.Plan, error) {
		return s.PlanInsertFirstChild(parentID)
	})
}

// AppendChild creates a node as the last child of parentID.
func (t *Tree[T]) AppendChild(ctx context.Context, parentID int64, name string, extra Extra) (int64, error) {
	return t.insert(ctx, "appendChild", name, extra, func(s *nestedset.Snapshot) (nestedset.Plan, error) {
		return s.PlanAppendChild(parentID)
	})
}

func (t *Tree[T]) MoveAsFirstChild(ctx context.Context, sourceID, targetID int64) error {
	return t.Move(ctx, sourceID, targetID, nestedset.FirstChild)
}

func (t *Tree[T]) MoveAsLastChild(ctx context.Context, sourceID, targetID int64) error {
	return t.Move(ctx, sourceID, targetID, nestedset.LastChild)
}

func (t *Tree[T]) MoveAsNextSibling(ctx context.Context, sourceID, targetID int64) error {
	return t.Move(ctx, sourceID, targetID, nestedset.NextSibling)
}

func (t *Tree[T]) MoveAsPrevSibling(ctx context.Context, sourceID, targetID int64) error {
	return t.Move(ctx, sourceID, targetID, nestedset.PrevSibling)
}

// Move relocates the subtree rooted at sourceID. Moving a node onto itself
// or into its own subtree fails with an InvalidMoveError; moving it to where
// it already is changes nothing.
func (t *Tree[T]) Move(ctx context.Context, sourceID, targetID int64, pos nestedset.Position) error {
	return t.mutate(ctx, "move", func(tx *sql.Tx, snap *nestedset.Snapshot) error {
		plan, err := snap.PlanMove(sourceID, targetID, pos)
		if errors.Is(err, nestedset.ErrCycle) || errors.Is(err, nestedset.ErrSameNode) {
			return &InvalidMoveError{Source: sourceID, Target: targetID, Position: pos, Err: err}
		}
		if err != nil {
			return err
		}
		_, err = t.apply(ctx, tx, plan, "", nil)
		return err
	})
}

// DeleteNode removes id, and with CascadeSubtree its descendants, closing the
// gap. before runs first in the same transaction with every id being
// removed. The removed ids are returned.
func (t *Tree[T]) DeleteNode(ctx context.Context, id int64, policy nestedset.DeletePolicy, before BeforeRemove) ([]int64, error) {
	var removed []int64
	err := t.mutate(ctx, "delete", func(tx *sql.Tx, snap *nestedset.Snapshot) error {
		plan, err := snap.PlanDelete(id, policy)
		if err != nil {
			return err
		}
		if before != nil {
			if err := before(ctx, tx, plan.Deletes); err != nil {
				return err
			}
		}
		if _, err := t.apply(ctx, tx, plan, "", nil); err != nil {
			return err
		}
		removed = plan.Deletes
		return nil
	})
	return removed, err
}

// Update writes the name and extra fields of id. Structural columns cannot be
// written this way.
func (t *Tree[T]) Update(ctx context.Context, id int64, fields Extra) error {
	if len(fields) == 0 {
		return nil
	}
	a := storage.NewArgs(t.dialect)
	var sets []string
	for _, field := range fields.keys() {
		col, err := t.column(field, true)
		if err != nil {
			return err
		}
		sets = append(sets, col+" = "+a.Add(fields[field]))
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", t.q.Table, strings.Join(sets, ", "), t.q.ID, a.Add(id))

	res, err := t.db.ExecContext(ctx, q, a.Values()...)
	if err != nil {
		return t.writeErr("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, t.table.Table, id)
	}
	return nil
}

func (t *Tree[T]) column(field string, allowName bool) (string, error) {
	if allowName && field == FieldName {
		return t.q.Name, nil
	}
	if col, ok := t.q.Extra[field]; ok {
		return col, nil
	}
	return "", fmt.Errorf("%w: unknown field %q for %s", ErrInvalidInput, field, t.table.Table)
}

func (t *Tree[T]) insert(ctx context.Context, op, name string, extra Extra, plan func(*nestedset.Snapshot) (nestedset.Plan, error)) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	for field := range extra {
		if _, err := t.column(field, false); err != nil {
			return 0, err
		}
	}

	var id int64
	err := t.mutate(ctx, op, func(tx *sql.Tx, snap *nestedset.Snapshot) error {
		p, err := plan(snap)
		if err != nil {
			return err
		}
		id, err = t.apply(ctx, tx, p, name, extra)
		return err
	})
	return id, err
}

// mutate runs fn under the table mutex in a transaction holding the table
// lock, with a fresh snapshot of the structural columns.
func (t *Tree[T]) mutate(ctx context.Context, op string, fn func(*sql.Tx, *nestedset.Snapshot) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	err := storage.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		if lock := t.dialect.LockTable(t.table.Table); lock != "" {
			if _, err := tx.ExecContext(ctx, lock); err != nil {
				return &StorageError{Op: op, Err: err}
			}
		}
		snap, err := t.snapshot(ctx, tx)
		if err != nil {
			return err
		}
		return fn(tx, snap)
	})
	err = t.classify(op, err)
	t.metrics.RecordTreeMutation(t.table.Table, op, err, time.Since(start))

	if err != nil {
		t.logger.WithError(err).WithField("op", op).Debug("Tree mutation failed")
	} else {
		t.logger.WithField("op", op).Debug("Tree mutation applied")
	}
	return err
}

func (t *Tree[T]) classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nestedset.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, nestedset.ErrHasChildren):
		return &ConstraintError{Op: op, Err: err}
	}
	return storageErr(op, err)
}

func (t *Tree[T]) snapshot(ctx context.Context, q storage.Querier) (*nestedset.Snapshot, error) {
	query := fmt.Sprintf("SELECT %s, COALESCE(%s, 0), %s, %s FROM %s ORDER BY %s",
		t.q.ID, t.q.ParentID, t.q.Left, t.q.Right, t.q.Table, t.q.Left)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "snapshot", Err: err}
	}
	defer rows.Close()

	var nodes []nestedset.Node
	for rows.Next() {
		var n nestedset.Node
		if err := rows.Scan(&n.ID, &n.ParentID, &n.Left, &n.Right); err != nil {
			return nil, &StorageError{Op: "snapshot", Err: err}
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "snapshot", Err: err}
	}
	return nestedset.NewSnapshot(nodes), nil
}

// apply writes a plan: removals first, then renumbering, then the insert.
func (t *Tree[T]) apply(ctx context.Context, tx *sql.Tx, p nestedset.Plan, name string, extra Extra) (int64, error) {
	if len(p.Deletes) > 0 {
		a := storage.NewArgs(t.dialect)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", t.q.Table, t.q.ID, a.AddIn(storage.InList(p.Deletes)...))
		if _, err := tx.ExecContext(ctx, q, a.Values()...); err != nil {
			return 0, t.writeErr("delete", err)
		}
	}

	for _, n := range p.Updates {
		a := storage.NewArgs(t.dialect)
		q := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s, %s = %s WHERE %s = %s",
			t.q.Table, t.q.Left, a.Add(n.Left), t.q.Right, a.Add(n.Right), t.q.ParentID, a.Add(nullableID(n.ParentID)),
			t.q.ID, a.Add(n.ID))
		if _, err := tx.ExecContext(ctx, q, a.Values()...); err != nil {
			return 0, t.writeErr("renumber", err)
		}
	}

	if p.Insert == nil {
		return 0, nil
	}

	a := storage.NewArgs(t.dialect)
	cols := []string{t.q.Name, t.q.ParentID, t.q.Left, t.q.Right}
	vals := []string{a.Add(name), a.Add(nullableID(p.Insert.ParentID)), a.Add(p.Insert.Left), a.Add(p.Insert.Right)}
	for _, field := range extra.keys() {
		cols = append(cols, t.q.Extra[field])
		vals = append(vals, a.Add(extra[field]))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		t.q.Table, strings.Join(cols, ", "), strings.Join(vals, ", "), t.q.ID)

	var id int64
	if err := tx.QueryRowContext(ctx, q, a.Values()...).Scan(&id); err != nil {
		return 0, t.writeErr("insert", err)
	}
	return id, nil
}

func (t *Tree[T]) writeErr(op string, err error) error {
	if t.dialect.IsConstraintViolation(err) {
		return &ConstraintError{Op: op, Err: err}
	}
	return &StorageError{Op: op, Err: err}
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func roleMapper(s Schema) rowMapper[Role] {
	r := s.Roles
	return rowMapper[Role]{
		columns: []string{r.ID, r.Name, r.Type, r.ParentID, r.Left, r.Right},
		scan: func(sc rowScanner) (Role, error) {
			var (
				role Role
				typ  sql.NullString
			)
			err := sc.Scan(&role.ID, &role.Name, &typ, &role.ParentID, &role.Left, &role.Right)
			role.Type = typ.String
			return role, err
		},
	}
}

func permissionMapper(s Schema) rowMapper[Permission] {
	p := s.Permissions
	return rowMapper[Permission]{
		columns: []string{p.ID, p.Name, p.Resource, p.Type, p.ParentID, p.Left, p.Right, p.Menu},
		scan: func(sc rowScanner) (Permission, error) {
			var (
				perm     Permission
				resource sql.NullString
				menu     sql.NullInt64
			)
			err := sc.Scan(&perm.ID, &perm.Name, &resource, &perm.Type, &perm.ParentID, &perm.Left, &perm.Right, &menu)
			perm.Resource = resource.String
			perm.Menu = menu.Int64 != 0
			return perm, err
		},
	}
}
