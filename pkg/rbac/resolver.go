package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/arbor/pkg/cache"
	"github.com/platinummonkey/arbor/pkg/observability"
	"github.com/platinummonkey/arbor/pkg/storage"
)

// Resolver answers authorization questions. Denial is a false result, never
// an error; errors are reserved for storage failures. A user without roles,
// or a check naming no operations or no permissions, is denied without
// querying the database.
type Resolver struct {
	reader storage.Querier
	// checks answers the queries whose results are cached.
	checks   storage.Querier
	dialect  storage.Dialect
	q        Schema
	bindings *Binding
	loader   *cache.Loader
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// HasRole reports whether userID holds at least one of roleIDs.
func (r *Resolver) HasRole(ctx context.Context, userID int64, roleIDs ...int64) (bool, error) {
	if len(roleIDs) == 0 {
		return false, nil
	}
	held, err := r.bindings.RoleIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, h := range held {
		for _, want := range roleIDs {
			if h == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// HasRoleNamed resolves role names to ids and calls HasRole.
func (r *Resolver) HasRoleNamed(ctx context.Context, userID int64, names ...string) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}
	ids, err := r.roleIDsByName(ctx, names)
	if err != nil {
		return false, err
	}
	return r.HasRole(ctx, userID, ids...)
}

func (r *Resolver) roleIDsByName(ctx context.Context, names []string) ([]int64, error) {
	ro := r.q.Roles
	a := storage.NewArgs(r.dialect)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", ro.ID, ro.Table, ro.Name, a.AddIn(storage.InList(names)...))

	rows, err := r.reader.QueryContext(ctx, query, a.Values()...)
	if err != nil {
		return nil, &StorageError{Op: "resolveRoles", Err: err}
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "resolveRoles", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "resolveRoles", Err: err}
	}
	return ids, nil
}

// HasPagePermission grants access when a page permission for resource is
// linked, through one of the user's roles, to one of ops.
func (r *Resolver) HasPagePermission(ctx context.Context, userID int64, resource string, ops []string) (bool, error) {
	p := r.q.Permissions
	return r.decide(ctx, "hasPagePermission", keyHasPage, userID, []any{resource, sorted(ops)}, [][]string{ops},
		func(a *storage.Args, roleIDs []int64) string {
			conds := []string{
				"p." + p.Resource + " = " + a.Add(resource),
				"p." + p.Type + " = " + a.Add(TypePage),
			}
			return r.grantQuery(a, conds, userID, roleIDs, ops)
		})
}

// HasObjectPermission is the page check for object permissions named in
// names.
func (r *Resolver) HasObjectPermission(ctx context.Context, userID int64, resource string, names, ops []string) (bool, error) {
	p := r.q.Permissions
	return r.decide(ctx, "hasObjectPermission", keyHasObject, userID, []any{resource, sorted(names), sorted(ops)}, [][]string{names, ops},
		func(a *storage.Args, roleIDs []int64) string {
			conds := []string{
				"p." + p.Resource + " = " + a.Add(resource),
				"p." + p.Type + " = " + a.Add(TypeObject),
				"p." + p.Name + " IN (" + a.AddIn(storage.InList(names)...) + ")",
			}
			return r.grantQuery(a, conds, userID, roleIDs, ops)
		})
}

// HasElementPermission is the object check restricted to permissions whose
// parent is the permission named object.
func (r *Resolver) HasElementPermission(ctx context.Context, userID int64, resource, object string, names, ops []string) (bool, error) {
	p := r.q.Permissions
	return r.decide(ctx, "hasElementPermission", keyHasElement, userID, []any{resource, object, sorted(names), sorted(ops)}, [][]string{names, ops},
		func(a *storage.Args, roleIDs []int64) string {
			conds := []string{
				"p." + p.Resource + " = " + a.Add(resource),
				"p." + p.Type + " = " + a.Add(TypeObject),
				"p." + p.Name + " IN (" + a.AddIn(storage.InList(names)...) + ")",
			}
			conds = append(conds, "p."+p.ParentID+" IN (SELECT x."+p.ID+" FROM "+p.Table+" x WHERE x."+p.Name+" = "+a.Add(object)+")")
			return r.grantQuery(a, conds, userID, roleIDs, ops)
		})
}

// HasPageAccess runs HasPagePermission against the resource attached to ctx.
func (r *Resolver) HasPageAccess(ctx context.Context, userID int64, ops ...string) (bool, error) {
	resource, err := ResourceFromContext(ctx)
	if err != nil {
		return false, err
	}
	return r.HasPagePermission(ctx, userID, resource, ops)
}

// HasObjectAccess runs HasObjectPermission against the resource attached to
// ctx.
func (r *Resolver) HasObjectAccess(ctx context.Context, userID int64, names, ops []string) (bool, error) {
	resource, err := ResourceFromContext(ctx)
	if err != nil {
		return false, err
	}
	return r.HasObjectPermission(ctx, userID, resource, names, ops)
}

// HasElementAccess runs HasElementPermission against the resource attached to
// ctx.
func (r *Resolver) HasElementAccess(ctx context.Context, userID int64, object string, names, ops []string) (bool, error) {
	resource, err := ResourceFromContext(ctx)
	if err != nil {
		return false, err
	}
	return r.HasElementPermission(ctx, userID, resource, object, names, ops)
}

// Check dispatches req to the check for its level.
func (r *Resolver) Check(ctx context.Context, req CheckRequest) (bool, error) {
	switch req.Level {
	case LevelPage, "":
		return r.HasPagePermission(ctx, req.UserID, req.Resource, req.Operations)
	case LevelObject:
		return r.HasObjectPermission(ctx, req.UserID, req.Resource, req.Permissions, req.Operations)
	case LevelElement:
		return r.HasElementPermission(ctx, req.UserID, req.Resource, req.Object, req.Permissions, req.Operations)
	}
	return false, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, req.Level)
}

// GetPagePermissions returns every page the user may view, in pre-order,
// with its depth in the permission tree.
func (r *Resolver) GetPagePermissions(ctx context.Context, userID int64) ([]PageGrant, error) {
	return r.pageGrants(ctx, userID, false)
}

// GetMenu is GetPagePermissions restricted to pages flagged for the menu.
func (r *Resolver) GetMenu(ctx context.Context, userID int64) ([]PageGrant, error) {
	return r.pageGrants(ctx, userID, true)
}

func (r *Resolver) pageGrants(ctx context.Context, userID int64, menuOnly bool) (grants []PageGrant, err error) {
	ctx, span := r.tracer.Start(ctx, "rbac.getPagePermissions", trace.WithAttributes(
		attribute.Int64("rbac.user_id", userID),
		attribute.Bool("rbac.menu_only", menuOnly),
	))
	defer func() {
		span.SetAttributes(attribute.Int("rbac.pages", len(grants)))
		endSpan(span, err)
	}()

	roleIDs, err := r.bindings.RoleIDs(ctx, userID)
	if err != nil || len(roleIDs) == 0 {
		return nil, err
	}

	key := checkKey(keyPagePermissions, r.loader.Generation(ctx, keyPagePermissions), userID, menuOnly)
	return cache.Fetch(ctx, r.loader, key, func(ctx context.Context) ([]PageGrant, error) {
		return r.queryPageGrants(ctx, userID, roleIDs, menuOnly)
	}, cache.EmptySlice[PageGrant])
}

func (r *Resolver) queryPageGrants(ctx context.Context, userID int64, roleIDs []int64, menuOnly bool) ([]PageGrant, error) {
	q := r.q
	p, op, o, ur := q.Permissions, q.OpPermissions, q.Operations, q.UserRoles
	a := storage.NewArgs(r.dialect)

	conds := []string{"n." + p.Type + " = " + a.Add(TypePage)}
	if menuOnly {
		conds = append(conds, "n."+p.Menu+" = "+a.Add(1))
	}
	exists := "EXISTS (SELECT 1 FROM " + op.Table + " op" +
		" INNER JOIN " + o.Table + " o ON o." + o.ID + " = op." + op.OperationID +
		" INNER JOIN " + ur.Table + " ur ON ur." + ur.RoleID + " = op." + op.RoleID +
		" WHERE op." + op.PermissionID + " = n." + p.ID
	exists += " AND o." + o.Name + " = " + a.Add(OperationView)
	exists += " AND ur." + ur.UserID + " = " + a.Add(userID)
	exists += " AND op." + op.RoleID + " IN (" + a.AddIn(storage.InList(roleIDs)...) + "))"
	conds = append(conds, exists)

	query := fmt.Sprintf("SELECT n.%s, n.%s, COALESCE(n.%s, 0), n.%s, COUNT(anc.%s) - 1"+
		" FROM %s n INNER JOIN %s anc ON n.%s BETWEEN anc.%s AND anc.%s"+
		" WHERE %s"+
		" GROUP BY n.%s, n.%s, n.%s, n.%s, n.%s"+
		" ORDER BY n.%s",
		p.ID, p.Name, p.ParentID, p.Resource, p.ID,
		p.Table, p.Table, p.Left, p.Left, p.Right,
		strings.Join(conds, " AND "),
		p.ID, p.Name, p.ParentID, p.Resource, p.Left,
		p.Left)

	rows, err := r.checks.QueryContext(ctx, query, a.Values()...)
	if err != nil {
		return nil, &StorageError{Op: "getPagePermissions", Err: err}
	}
	defer rows.Close()

	var out []PageGrant
	for rows.Next() {
		var (
			g        PageGrant
			resource sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.ParentID, &resource, &g.Depth); err != nil {
			return nil, &StorageError{Op: "getPagePermissions", Err: err}
		}
		g.Resource = resource.String
		g.Operation = OperationView
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "getPagePermissions", Err: err}
	}
	return out, nil
}

// decide runs one cached existence check. required lists the inputs that
// must be non-empty for the check to be able to match anything.
func (r *Resolver) decide(ctx context.Context, check string, base cache.Key, userID int64, keyArgs []any, required [][]string,
	build func(a *storage.Args, roleIDs []int64) string) (allowed bool, err error) {

	ctx, span := r.tracer.Start(ctx, "rbac."+check, trace.WithAttributes(attribute.Int64("rbac.user_id", userID)))
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Bool("rbac.allowed", allowed))
		endSpan(span, err)
		r.metrics.RecordDecision(check, allowed, err, time.Since(start))
		if err != nil {
			observability.FromContext(ctx, r.logger).WithError(err).WithField("check", check).Warn("Permission check failed")
		}
	}()

	for _, list := range required {
		if len(list) == 0 {
			return false, nil
		}
	}

	roleIDs, err := r.bindings.RoleIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(roleIDs) == 0 {
		return false, nil
	}

	key := checkKey(base, r.loader.Generation(ctx, base), append([]any{userID}, keyArgs...)...)
	return cache.Fetch(ctx, r.loader, key, func(ctx context.Context) (bool, error) {
		a := storage.NewArgs(r.dialect)
		query := build(a, roleIDs)

		var one int
		err := r.checks.QueryRowContext(ctx, query, a.Values()...).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, &StorageError{Op: check, Err: err}
		}
		return true, nil
	}, nil)
}

// grantQuery joins permissions to the user's operation grants. conds must
// already be bound on a; the user, role and operation predicates follow them.
func (r *Resolver) grantQuery(a *storage.Args, conds []string, userID int64, roleIDs []int64, ops []string) string {
	q := r.q
	p, op, o, ur := q.Permissions, q.OpPermissions, q.Operations, q.UserRoles

	conds = append(conds,
		"ur."+ur.UserID+" = "+a.Add(userID),
		"op."+op.RoleID+" IN ("+a.AddIn(storage.InList(roleIDs)...)+")",
		"o."+o.Name+" IN ("+a.AddIn(storage.InList(ops)...)+")",
	)
	return "SELECT 1 FROM " + p.Table + " p" +
		" INNER JOIN " + op.Table + " op ON op." + op.PermissionID + " = p." + p.ID +
		" INNER JOIN " + ur.Table + " ur ON ur." + ur.RoleID + " = op." + op.RoleID +
		" INNER JOIN " + o.Table + " o ON o." + o.ID + " = op." + op.OperationID +
		" WHERE " + strings.Join(conds, " AND ") +
		" LIMIT 1"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
