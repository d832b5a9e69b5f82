package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/arbor/pkg/cache"
	"github.com/platinummonkey/arbor/pkg/storage"
)

// openTestDB opens an empty in-memory sqlite database. A single connection
// keeps every statement on the same in-memory database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// setupTestDB opens a database migrated with the default schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db := openTestDB(t)
	require.NoError(t, RunMigrations(context.Background(), db, storage.SQLite{}, DefaultSchema(), nullLogger()))
	return db
}

func nullLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

// setupTestEngine builds an engine over a fresh database and a memory cache.
func setupTestEngine(t *testing.T, mods ...func(*Options)) (*Engine, *sql.DB) {
	t.Helper()

	db := setupTestDB(t)
	opts := Options{
		Cache:  cache.NewMemoryCache(1000, 0),
		Logger: nullLogger(),
	}
	for _, mod := range mods {
		mod(&opts)
	}
	engine, err := NewEngine(db, storage.SQLite{}, opts)
	require.NoError(t, err)
	return engine, db
}

// fixture is the shared scenario: admin (1) with child editor (2), user 100
// holding editor, and a permission tree
//
//	user/create          page
//	  userCreateForm     object
//	    username         object (element)
//	other/list           page, menu
type fixture struct {
	admin, editor int64

	page, form, username, otherPage int64
	view, del, insert               int64
}

const fixtureUser = int64(100)

func seedFixture(t *testing.T, e *Engine) fixture {
	t.Helper()
	ctx := context.Background()
	var f fixture
	var err error

	f.admin, err = e.Directory.AddRoot(ctx, "admin", nil)
	require.NoError(t, err)
	f.editor, err = e.Directory.Append(ctx, f.admin, "editor", Extra{FieldType: "staff"})
	require.NoError(t, err)
	require.NoError(t, e.Bindings.Assign(ctx, fixtureUser, f.editor))

	f.page, err = e.Registry.AddPermission(ctx, PermissionInput{Name: "user/create", Resource: "user/create", Type: TypePage})
	require.NoError(t, err)
	f.form, err = e.Registry.AddPermission(ctx, PermissionInput{ParentID: f.page, Name: "userCreateForm", Resource: "user/create", Type: TypeObject})
	require.NoError(t, err)
	f.username, err = e.Registry.AddPermission(ctx, PermissionInput{ParentID: f.form, Name: "username", Resource: "user/create", Type: TypeObject})
	require.NoError(t, err)
	f.otherPage, err = e.Registry.AddPermission(ctx, PermissionInput{Name: "other/list", Resource: "other/list", Type: TypePage, Menu: true})
	require.NoError(t, err)

	f.view, err = e.Registry.AddOperation(ctx, OperationView)
	require.NoError(t, err)
	f.del, err = e.Registry.AddOperation(ctx, "delete")
	require.NoError(t, err)
	f.insert, err = e.Registry.AddOperation(ctx, "insert")
	require.NoError(t, err)

	require.NoError(t, e.Registry.Grant(ctx, f.editor, f.page))
	require.NoError(t, e.Registry.GrantOperation(ctx, f.editor, f.page, f.view))
	require.NoError(t, e.Registry.GrantOperation(ctx, f.editor, f.username, f.view))
	return f
}

// countRows returns the number of rows in table matching column = id.
func countRows(t *testing.T, db *sql.DB, table, column string, id int64) int {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM "`+table+`" WHERE "`+column+`" = ?`, id).Scan(&n)
	require.NoError(t, err)
	return n
}
