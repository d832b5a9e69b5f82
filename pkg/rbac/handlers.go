package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/httputil"
	"github.com/platinummonkey/arbor/pkg/nestedset"
	"github.com/platinummonkey/arbor/pkg/observability"
)

// Handlers exposes the engine over HTTP.
type Handlers struct {
	engine *Engine
	logger logrus.FieldLogger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(engine *Engine, logger logrus.FieldLogger) *Handlers {
	return &Handlers{engine: engine, logger: logger}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Role tree
	router.HandleFunc("/rbac/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/rbac/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/rbac/roles/root", h.ListRootRoles).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/rbac/roles/{id}", h.DeleteRole).Methods("DELETE")
	router.HandleFunc("/rbac/roles/{id}/move", h.MoveRole).Methods("POST")
	router.HandleFunc("/rbac/roles/{id}/siblings", h.GetSiblings).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}/users", h.GetRoleUsers).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}/permissions", h.GetRolePermissions).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}/permissions", h.GrantPermission).Methods("POST")
	router.HandleFunc("/rbac/roles/{id}/permissions/{permissionID}", h.RevokePermission).Methods("DELETE")
	router.HandleFunc("/rbac/roles/{id}/grants", h.GrantOperation).Methods("POST")
	router.HandleFunc("/rbac/roles/{id}/grants", h.RevokeOperation).Methods("DELETE")

	// User assignments
	router.HandleFunc("/rbac/users/{id}/roles", h.GetUserRoles).Methods("GET")
	router.HandleFunc("/rbac/users/{id}/roles", h.AssignRole).Methods("POST")
	router.HandleFunc("/rbac/users/{id}/roles", h.DeleteUserRoles).Methods("DELETE")
	router.HandleFunc("/rbac/users/{id}/roles/{roleID}", h.DeAssignRole).Methods("DELETE")
	router.HandleFunc("/rbac/users/{id}/pages", h.GetPagePermissions).Methods("GET")
	router.HandleFunc("/rbac/users/{id}/menu", h.GetMenu).Methods("GET")

	// Permission tree and operations
	router.HandleFunc("/rbac/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/rbac/permissions", h.CreatePermission).Methods("POST")
	router.HandleFunc("/rbac/permissions/{id}", h.DeletePermission).Methods("DELETE")
	router.HandleFunc("/rbac/permissions/{id}/move", h.MovePermission).Methods("POST")
	router.HandleFunc("/rbac/operations", h.ListOperations).Methods("GET")
	router.HandleFunc("/rbac/operations", h.CreateOperation).Methods("POST")

	// Decisions
	router.HandleFunc("/rbac/check", h.Check).Methods("POST")
}

type createRoleRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID int64  `json:"parent_id"`
	Position string `json:"position"`
}

type updateRoleRequest struct {
	Name *string `json:"name"`
	Type *string `json:"type"`
}

type moveRequest struct {
	TargetID int64  `json:"target_id"`
	Position string `json:"position"`
}

type grantRequest struct {
	PermissionID int64  `json:"permission_id"`
	Operation    string `json:"operation,omitempty"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

type deleteResponse struct {
	Removed []int64 `json:"removed"`
}

type countResponse struct {
	Deleted int64 `json:"deleted"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.engine.Directory.GetAllRoles(r.Context())
	h.respond(w, r, nonNil(roles), err)
}

func (h *Handlers) ListRootRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.engine.Directory.GetRoot(r.Context())
	h.respond(w, r, nonNil(roles), err)
}

// CreateRole adds a role as a root, or as the first or last child of
// parent_id.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	var extra Extra
	if req.Type != "" {
		extra = Extra{FieldType: req.Type}
	}

	ctx := r.Context()
	dir := h.engine.Directory
	var (
		id  int64
		err error
	)
	if req.ParentID == 0 {
		id, err = dir.AddRoot(ctx, req.Name, extra)
	} else {
		pos, perr := nestedset.ParsePosition(req.Position)
		switch {
		case perr != nil:
			httputil.WriteBadRequest(w, perr.Error())
			return
		case pos == FirstChild:
			id, err = dir.Add(ctx, req.ParentID, req.Name, extra)
		case pos == LastChild:
			id, err = dir.Append(ctx, req.ParentID, req.Name, extra)
		default:
			httputil.WriteBadRequest(w, "position must be first_child or last_child")
			return
		}
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, idResponse{ID: id})
}

func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	fields := Extra{}
	if req.Name != nil {
		if !httputil.RequireNonEmpty(w, *req.Name, "name") {
			return
		}
		fields[FieldName] = *req.Name
	}
	if req.Type != nil {
		fields[FieldType] = *req.Type
	}
	if err := h.engine.Directory.Update(r.Context(), id, fields); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// DeleteRole removes a role; ?cascade=true removes its subtree as well.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	policy, ok := h.deletePolicy(w, r)
	if !ok {
		return
	}
	removed, err := h.engine.Directory.Delete(r.Context(), id, policy)
	h.respond(w, r, deleteResponse{Removed: removed}, err)
}

func (h *Handlers) MoveRole(w http.ResponseWriter, r *http.Request) {
	id, target, pos, ok := h.parseMove(w, r)
	if !ok {
		return
	}
	if err := h.engine.Directory.Move(r.Context(), id, target, pos); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) GetSiblings(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	roles, err := h.engine.Directory.GetSiblings(r.Context(), id)
	h.respond(w, r, nonNil(roles), err)
}

func (h *Handlers) GetRoleUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	users, err := h.engine.Directory.GetUsers(r.Context(), id)
	h.respond(w, r, nonNil(users), err)
}

func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	perms, err := h.engine.Directory.GetPermissions(r.Context(), id)
	h.respond(w, r, nonNil(perms), err)
}

func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequirePositive(w, req.PermissionID, "permission_id") {
		return
	}
	if err := h.engine.Registry.Grant(r.Context(), id, req.PermissionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	permID, ok := httputil.PathIDOrError(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.engine.Registry.Revoke(r.Context(), id, permID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GrantOperation allows the role to perform the named operation on a
// permission.
func (h *Handlers) GrantOperation(w http.ResponseWriter, r *http.Request) {
	h.operationGrant(w, r, h.engine.Registry.GrantOperation)
}

func (h *Handlers) RevokeOperation(w http.ResponseWriter, r *http.Request) {
	h.operationGrant(w, r, h.engine.Registry.RevokeOperation)
}

func (h *Handlers) operationGrant(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, roleID, permissionID, operationID int64) error) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) ||
		!httputil.RequirePositive(w, req.PermissionID, "permission_id") ||
		!httputil.RequireNonEmpty(w, req.Operation, "operation") {
		return
	}
	ops, err := h.engine.Registry.OperationIDs(r.Context(), req.Operation)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	opID, found := ops[req.Operation]
	if !found {
		httputil.WriteNotFound(w, "unknown operation "+req.Operation)
		return
	}
	if err := apply(r.Context(), id, req.PermissionID, opID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	roles, err := h.engine.Bindings.Roles(r.Context(), id)
	h.respond(w, r, nonNil(roles), err)
}

func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		RoleID int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}
	if err := h.engine.Bindings.Assign(r.Context(), id, req.RoleID); err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, Assignment{UserID: id, RoleID: req.RoleID})
}

func (h *Handlers) DeAssignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.PathIDOrError(w, r, "roleID")
	if !ok {
		return
	}
	n, err := h.engine.Bindings.DeAssign(r.Context(), id, roleID)
	h.respond(w, r, countResponse{Deleted: n}, err)
}

func (h *Handlers) DeleteUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	n, err := h.engine.Bindings.DeleteRoleFromUsers(r.Context(), id)
	h.respond(w, r, countResponse{Deleted: n}, err)
}

func (h *Handlers) GetPagePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	pages, err := h.engine.Resolver.GetPagePermissions(r.Context(), id)
	h.respond(w, r, nonNil(pages), err)
}

func (h *Handlers) GetMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	pages, err := h.engine.Resolver.GetMenu(r.Context(), id)
	h.respond(w, r, nonNil(pages), err)
}

func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.engine.Registry.GetPermissionTree(r.Context())
	h.respond(w, r, nonNil(perms), err)
}

func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	id, err := h.engine.Registry.AddPermission(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, idResponse{ID: id})
}

func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return
	}
	policy, ok := h.deletePolicy(w, r)
	if !ok {
		return
	}
	removed, err := h.engine.Registry.DeletePermission(r.Context(), id, policy)
	h.respond(w, r, deleteResponse{Removed: removed}, err)
}

func (h *Handlers) MovePermission(w http.ResponseWriter, r *http.Request) {
	id, target, pos, ok := h.parseMove(w, r)
	if !ok {
		return
	}
	if err := h.engine.Registry.MovePermission(r.Context(), id, target, pos); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.engine.Registry.Operations(r.Context())
	h.respond(w, r, nonNil(ops), err)
}

func (h *Handlers) CreateOperation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	id, err := h.engine.Registry.AddOperation(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, idResponse{ID: id})
}

// Check answers a page, object or element check. A denial is a 200 with
// allowed set to false.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequirePositive(w, req.UserID, "user_id") {
		return
	}
	allowed, err := h.engine.Resolver.Check(r.Context(), req)
	h.respond(w, r, checkResponse{Allowed: allowed}, err)
}

func (h *Handlers) parseMove(w http.ResponseWriter, r *http.Request) (int64, int64, Position, bool) {
	id, ok := httputil.PathIDOrError(w, r, "id")
	if !ok {
		return 0, 0, 0, false
	}
	var req moveRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequirePositive(w, req.TargetID, "target_id") {
		return 0, 0, 0, false
	}
	pos, err := nestedset.ParsePosition(req.Position)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, 0, 0, false
	}
	return id, req.TargetID, pos, true
}

func (h *Handlers) deletePolicy(w http.ResponseWriter, r *http.Request) (DeletePolicy, bool) {
	cascade, err := httputil.QueryBool(r, "cascade", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return RejectChildren, false
	}
	if cascade {
		return CascadeSubtree, true
	}
	return RejectChildren, true
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, data interface{}, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, data)
}

// writeError maps the error taxonomy to status codes.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		moveErr       *InvalidMoveError
		constraintErr *ConstraintError
	)
	switch {
	case errors.As(err, &moveErr), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrResourceUnset):
		httputil.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err)
	case errors.As(err, &constraintErr):
		httputil.WriteError(w, http.StatusConflict, err)
	default:
		observability.FromContext(r.Context(), h.logger).WithError(err).
			WithField("path", r.URL.Path).Error("RBAC request failed")
		httputil.WriteInternalError(w)
	}
}

func nonNil[E any](s []E) []E {
	if s == nil {
		return []E{}
	}
	return s
}
