package storage

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"postgres", "postgresql", "POSTGRES"} {
		d, err := DialectFor(name)
		require.NoError(t, err)
		assert.Equal(t, DialectPostgres, d.Name())
	}
	for _, name := range []string{"sqlite3", "sqlite"} {
		d, err := DialectFor(name)
		require.NoError(t, err)
		assert.Equal(t, DialectSQLite, d.Name())
	}

	_, err := DialectFor("oracle")
	assert.Error(t, err)
}

func TestProtect(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"rbac_roles", `"rbac_roles"`},
		{"p.lft", `"p"."lft"`},
		{`odd"name`, `"odd""name"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Postgres{}.Protect(tt.in))
		assert.Equal(t, tt.want, SQLite{}.Protect(tt.in))
	}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$3", Postgres{}.Placeholder(3))
	assert.Equal(t, "?", SQLite{}.Placeholder(3))
}

func TestLockTable(t *testing.T) {
	assert.Equal(t, `LOCK TABLE "rbac_roles" IN SHARE ROW EXCLUSIVE MODE`, Postgres{}.LockTable("rbac_roles"))
	assert.Empty(t, SQLite{}.LockTable("rbac_roles"))
}

func TestPostgresConstraintViolation(t *testing.T) {
	d := Postgres{}
	assert.True(t, d.IsConstraintViolation(&pq.Error{Code: "23505"}))
	assert.True(t, d.IsConstraintViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23503"})))
	assert.False(t, d.IsConstraintViolation(&pq.Error{Code: "42P01"}))
	assert.False(t, d.IsConstraintViolation(sql.ErrNoRows))
}

func TestSQLiteConstraintViolation(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE pairs (a INTEGER, b INTEGER, UNIQUE(a, b))`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO pairs (a, b) VALUES (1, 2)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO pairs (a, b) VALUES (1, 2)`)
	require.Error(t, err)
	assert.True(t, SQLite{}.IsConstraintViolation(err))

	_, err = db.Exec(`INSERT INTO missing (a) VALUES (1)`)
	require.Error(t, err)
	assert.False(t, SQLite{}.IsConstraintViolation(err))
}
