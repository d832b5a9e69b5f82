package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the SQL differences between supported databases.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// Protect quotes a possibly dotted identifier.
	Protect(ident string) string
	// LockTable returns a statement that serializes writers on table for the
	// rest of the transaction, or "" when transactions already do.
	LockTable(table string) string
	// IdentityColumn is the column definition of an auto-generated key.
	IdentityColumn() string
	// IsConstraintViolation reports whether err is a unique or foreign key
	// violation raised by the driver.
	IsConstraintViolation(err error) bool
}

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// DialectFor resolves a dialect by driver name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case DialectPostgres, "postgresql":
		return Postgres{}, nil
	case DialectSQLite, "sqlite":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported dialect %q", name)
}

// Postgres is the lib/pq dialect.
type Postgres struct{}

func (Postgres) Name() string { return DialectPostgres }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) Protect(ident string) string { return quoteIdent(ident) }

func (Postgres) LockTable(table string) string {
	return "LOCK TABLE " + quoteIdent(table) + " IN SHARE ROW EXCLUSIVE MODE"
}

func (Postgres) IdentityColumn() string { return "BIGSERIAL PRIMARY KEY" }

func (Postgres) IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 23: integrity constraint violation
		return pqErr.Code.Class() == "23"
	}
	return false
}

// SQLite is the mattn/go-sqlite3 dialect.
type SQLite struct{}

func (SQLite) Name() string { return DialectSQLite }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Protect(ident string) string { return quoteIdent(ident) }

func (SQLite) LockTable(string) string { return "" }

func (SQLite) IdentityColumn() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (SQLite) IsConstraintViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func quoteIdent(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
