// Package storage is the relational collaborator used by the RBAC engine.
//
// # Overview
//
// The engine talks to the database through database/sql and never
// interpolates user data into SQL text. This package supplies the pieces that
// make that practical across databases:
//
//   - Dialect: placeholder syntax, identifier quoting (Protect), table locking
//     and constraint-violation detection for postgres (lib/pq) and sqlite
//     (mattn/go-sqlite3).
//   - Args: an ordered list of bound values that renders the matching
//     placeholders, including variable-length IN lists.
//   - WithTx: run a function inside a transaction, rolling back on error.
//   - ConnectionManager: primary and read-replica pools.
//
// # Building queries
//
// Table and column names come from configuration and are quoted with
// Protect. Values are always bound:
//
//	args := storage.NewArgs(dialect)
//	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
//		dialect.Protect("role_id"), dialect.Protect("rbac_user_roles"),
//		dialect.Protect("user_id"), args.AddIn(storage.InList(userIDs)...))
//	rows, err := db.QueryContext(ctx, query, args.Values()...)
//
// AddIn renders NULL for an empty list so the predicate matches nothing;
// callers are expected to short-circuit before reaching that point.
package storage
