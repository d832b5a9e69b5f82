package rbac

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/arbor/pkg/storage"
)

// RoleColumns maps the role tree table.
type RoleColumns struct {
	Table    string `yaml:"table"`
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	ParentID string `yaml:"parent_id"`
	Left     string `yaml:"left"`
	Right    string `yaml:"right"`
}

// UserRoleColumns maps the user to role assignment table.
type UserRoleColumns struct {
	Table      string `yaml:"table"`
	UserID     string `yaml:"user_id"`
	RoleID     string `yaml:"role_id"`
	AssignedAt string `yaml:"assigned_at"`
}

// PermissionColumns maps the permission tree table.
type PermissionColumns struct {
	Table    string `yaml:"table"`
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Resource string `yaml:"resource"`
	Type     string `yaml:"type"`
	ParentID string `yaml:"parent_id"`
	Left     string `yaml:"left"`
	Right    string `yaml:"right"`
	Menu     string `yaml:"menu"`
}

// RolePermissionColumns maps the role to permission association.
type RolePermissionColumns struct {
	Table        string `yaml:"table"`
	RoleID       string `yaml:"role_id"`
	PermissionID string `yaml:"permission_id"`
}

// OperationColumns maps the operation table.
type OperationColumns struct {
	Table string `yaml:"table"`
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
}

// OpPermissionColumns maps the (operation, permission, role) association.
type OpPermissionColumns struct {
	Table        string `yaml:"table"`
	OperationID  string `yaml:"operation_id"`
	PermissionID string `yaml:"permission_id"`
	RoleID       string `yaml:"role_id"`
}

// Schema is the table and column mapping shared by every component. It is
// copied by value into each component and never modified afterwards.
type Schema struct {
	Roles           RoleColumns           `yaml:"roles"`
	UserRoles       UserRoleColumns       `yaml:"user_roles"`
	Permissions     PermissionColumns     `yaml:"permissions"`
	RolePermissions RolePermissionColumns `yaml:"role_permissions"`
	Operations      OperationColumns      `yaml:"operations"`
	OpPermissions   OpPermissionColumns   `yaml:"op_permissions"`
}

// DefaultSchema returns the mapping used when no schema file is configured.
func DefaultSchema() Schema {
	return Schema{
		Roles: RoleColumns{
			Table: "rbac_roles", ID: "role_id", Name: "name", Type: "type",
			ParentID: "parent_id", Left: "lft", Right: "rgt",
		},
		UserRoles: UserRoleColumns{
			Table: "rbac_user_roles", UserID: "user_id", RoleID: "role_id", AssignedAt: "assigned_at",
		},
		Permissions: PermissionColumns{
			Table: "rbac_permissions", ID: "permission_id", Name: "name", Resource: "resource",
			Type: "type", ParentID: "parent_id", Left: "lft", Right: "rgt", Menu: "menu_flag",
		},
		RolePermissions: RolePermissionColumns{
			Table: "rbac_role_permissions", RoleID: "role_id", PermissionID: "permission_id",
		},
		Operations: OperationColumns{
			Table: "rbac_operations", ID: "operation_id", Name: "name",
		},
		OpPermissions: OpPermissionColumns{
			Table: "rbac_op_permissions", OperationID: "operation_id", PermissionID: "permission_id", RoleID: "role_id",
		},
	}
}

// ParseSchema reads a YAML mapping. Fields left out keep their default.
func ParseSchema(data []byte) (Schema, error) {
	s := DefaultSchema()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, &ConfigurationError{Field: "schema", Reason: err.Error()}
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// LoadSchema reads a YAML mapping from path.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, &ConfigurationError{Field: "schema", Reason: fmt.Sprintf("failed to read %s: %v", path, err)}
	}
	return ParseSchema(data)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that every name is present and is a plain identifier.
func (s Schema) Validate() error {
	for _, f := range s.fields() {
		switch {
		case *f.value == "":
			return &ConfigurationError{Field: f.path, Reason: "must not be empty"}
		case !identifierPattern.MatchString(*f.value):
			return &ConfigurationError{Field: f.path, Reason: fmt.Sprintf("%q is not a valid identifier", *f.value)}
		}
	}
	return nil
}

// quoted returns a copy of s with every name passed through Protect.
func (s Schema) quoted(d storage.Dialect) Schema {
	q := s
	for _, f := range q.fields() {
		*f.value = d.Protect(*f.value)
	}
	return q
}

type schemaField struct {
	path  string
	value *string
}

func (s *Schema) fields() []schemaField {
	return []schemaField{
		{"roles.table", &s.Roles.Table},
		{"roles.id", &s.Roles.ID},
		{"roles.name", &s.Roles.Name},
		{"roles.type", &s.Roles.Type},
		{"roles.parent_id", &s.Roles.ParentID},
		{"roles.left", &s.Roles.Left},
		{"roles.right", &s.Roles.Right},
		{"user_roles.table", &s.UserRoles.Table},
		{"user_roles.user_id", &s.UserRoles.UserID},
		{"user_roles.role_id", &s.UserRoles.RoleID},
		{"user_roles.assigned_at", &s.UserRoles.AssignedAt},
		{"permissions.table", &s.Permissions.Table},
		{"permissions.id", &s.Permissions.ID},
		{"permissions.name", &s.Permissions.Name},
		{"permissions.resource", &s.Permissions.Resource},
		{"permissions.type", &s.Permissions.Type},
		{"permissions.parent_id", &s.Permissions.ParentID},
		{"permissions.left", &s.Permissions.Left},
		{"permissions.right", &s.Permissions.Right},
		{"permissions.menu", &s.Permissions.Menu},
		{"role_permissions.table", &s.RolePermissions.Table},
		{"role_permissions.role_id", &s.RolePermissions.RoleID},
		{"role_permissions.permission_id", &s.RolePermissions.PermissionID},
		{"operations.table", &s.Operations.Table},
		{"operations.id", &s.Operations.ID},
		{"operations.name", &s.Operations.Name},
		{"op_permissions.table", &s.OpPermissions.Table},
		{"op_permissions.operation_id", &s.OpPermissions.OperationID},
		{"op_permissions.permission_id", &s.OpPermissions.PermissionID},
		{"op_permissions.role_id", &s.OpPermissions.RoleID},
	}
}

// TreeTable is the nested-set view of a table: its structural columns plus
// the extra columns writable through Extra.
type TreeTable struct {
	Table    string
	ID       string
	Name     string
	ParentID string
	Left     string
	Right    string
	// Extra maps a field name accepted in Extra to its column.
	Extra map[string]string
}

func (s Schema) roleTable() TreeTable {
	r := s.Roles
	return TreeTable{
		Table: r.Table, ID: r.ID, Name: r.Name, ParentID: r.ParentID, Left: r.Left, Right: r.Right,
		Extra: map[string]string{FieldType: r.Type},
	}
}

func (s Schema) permissionTable() TreeTable {
	p := s.Permissions
	return TreeTable{
		Table: p.Table, ID: p.ID, Name: p.Name, ParentID: p.ParentID, Left: p.Left, Right: p.Right,
		Extra: map[string]string{FieldType: p.Type, FieldResource: p.Resource, FieldMenu: p.Menu},
	}
}
