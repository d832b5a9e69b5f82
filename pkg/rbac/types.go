package rbac

import (
	"fmt"
	"sort"

	"github.com/platinummonkey/arbor/pkg/nestedset"
)

// Field names accepted in Extra.
const (
	FieldName     = "name"
	FieldType     = "type"
	FieldResource = "resource"
	FieldMenu     = "menu"
)

// Permission types.
const (
	TypePage   = "page"
	TypeObject = "object"
)

// OperationView is the operation that makes a page visible in menus.
const OperationView = "view"

// Level is the granularity of a permission check.
type Level string

const (
	LevelPage    Level = "page"
	LevelObject  Level = "object"
	LevelElement Level = "element"
)

// Re-exported so callers do not need the nestedset package.
type (
	Position     = nestedset.Position
	DeletePolicy = nestedset.DeletePolicy
)

const (
	FirstChild  = nestedset.FirstChild
	LastChild   = nestedset.LastChild
	NextSibling = nestedset.NextSibling
	PrevSibling = nestedset.PrevSibling

	// RejectChildren is the default delete policy.
	RejectChildren = nestedset.RejectChildren
	CascadeSubtree = nestedset.CascadeSubtree
)

// Extra carries non-structural column values keyed by field name.
type Extra map[string]any

// keys returns the field names in a stable order.
func (e Extra) keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Role is a node of the role tree.
type Role struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	ParentID int64  `json:"parent_id"`
	Left     int64  `json:"lft"`
	Right    int64  `json:"rgt"`
}

// IsAncestorOf reports whether r strictly contains o.
func (r Role) IsAncestorOf(o Role) bool {
	return r.Left < o.Left && o.Right < r.Right
}

// Permission is a node of the permission tree. Element permissions are
// children of an object permission.
type Permission struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Type     string `json:"type"`
	ParentID int64  `json:"parent_id"`
	Left     int64  `json:"lft"`
	Right    int64  `json:"rgt"`
	Menu     bool   `json:"menu"`
}

// PermissionInput describes a permission to create.
type PermissionInput struct {
	ParentID int64  `json:"parent_id"`
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Type     string `json:"type"`
	Menu     bool   `json:"menu"`
}

func (in PermissionInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	if in.Type != TypePage && in.Type != TypeObject {
		return fmt.Errorf("%w: permission type must be %q or %q, got %q", ErrInvalidInput, TypePage, TypeObject, in.Type)
	}
	return nil
}

func (in PermissionInput) extra() Extra {
	return Extra{FieldResource: in.Resource, FieldType: in.Type, FieldMenu: boolInt(in.Menu)}
}

// Operation is an action verb such as view or delete.
type Operation struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Assignment is one row of the user to role association.
type Assignment struct {
	UserID     int64 `json:"user_id"`
	RoleID     int64 `json:"role_id"`
	AssignedAt int64 `json:"assigned_at"`
}

// PageGrant is one entry of a user's visible page tree.
type PageGrant struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ParentID  int64  `json:"parent_id"`
	Resource  string `json:"resource"`
	Operation string `json:"operation"`
	Depth     int    `json:"depth"`
}

// CheckRequest is a permission check at any level.
type CheckRequest struct {
	UserID      int64    `json:"user_id"`
	Resource    string   `json:"resource"`
	Level       Level    `json:"level"`
	Object      string   `json:"object,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Operations  []string `json:"operations"`
}
