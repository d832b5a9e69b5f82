package rbac

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/arbor/pkg/storage"
)

func TestParseSchema(t *testing.T) {
	data := []byte(`
roles:
  table: acl_roles
  id: id
permissions:
  menu: show_in_menu
`)
	s, err := ParseSchema(data)
	require.NoError(t, err)
	assert.Equal(t, "acl_roles", s.Roles.Table)
	assert.Equal(t, "id", s.Roles.ID)
	assert.Equal(t, "lft", s.Roles.Left, "unset fields keep their default")
	assert.Equal(t, "show_in_menu", s.Permissions.Menu)
	assert.Equal(t, DefaultSchema().Operations, s.Operations)
}

func TestParseSchema_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{"malformed yaml", "roles: [", "schema"},
		{"empty name", "roles:\n  table: \"\"\n", "roles.table"},
		{"not an identifier", "operations:\n  name: \"name; DROP TABLE x\"\n", "operations.name"},
		{"quoted identifier", "user_roles:\n  user_id: '\"uid\"'\n", "user_roles.user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchema([]byte(tt.data))
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestLoadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operations:\n  table: verbs\n"), 0o600))

	s, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, "verbs", s.Operations.Table)

	_, err = LoadSchema(filepath.Join(t.TempDir(), "missing.yaml"))
	var ce *ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestSchema_Quoted(t *testing.T) {
	s := DefaultSchema()
	q := s.quoted(storage.Postgres{})
	assert.Equal(t, `"rbac_roles"`, q.Roles.Table)
	assert.Equal(t, `"menu_flag"`, q.Permissions.Menu)
	assert.Equal(t, "rbac_roles", s.Roles.Table, "original is untouched")
}

func TestNewEngine_Configuration(t *testing.T) {
	db := setupTestDB(t)

	_, err := NewEngine(nil, storage.SQLite{}, Options{})
	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "db", ce.Field)

	_, err = NewEngine(db, nil, Options{})
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "dialect", ce.Field)

	bad := DefaultSchema()
	bad.Roles.Left = ""
	_, err = NewEngine(db, storage.SQLite{}, Options{Schema: &bad})
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "roles.left", ce.Field)

	e, err := NewEngine(db, storage.SQLite{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSchema(), e.Schema())
	assert.Equal(t, storage.DialectSQLite, e.Dialect().Name())
	assert.Len(t, e.Trees(), 2)
}

func TestEngine_CustomSchema(t *testing.T) {
	s, err := ParseSchema([]byte("roles:\n  table: acl_roles\noperations:\n  table: verbs\n"))
	require.NoError(t, err)

	db := openTestDB(t)
	require.NoError(t, RunMigrations(t.Context(), db, storage.SQLite{}, s, nullLogger()))

	e, err := NewEngine(db, storage.SQLite{}, Options{Schema: &s, Logger: nullLogger()})
	require.NoError(t, err)

	id, err := e.Directory.AddRoot(t.Context(), "root", nil)
	require.NoError(t, err)
	require.NoError(t, e.Bindings.Assign(t.Context(), 7, id))

	ok, err := e.Resolver.HasRole(t.Context(), 7, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, countRows(t, db, "acl_roles", "role_id", id))
}
