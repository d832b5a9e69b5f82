package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/arbor/pkg/storage"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// migrationsTable records applied versions.
const migrationsTable = "rbac_migrations"

// GetMigrations renders the migrations for a schema mapping and dialect.
func GetMigrations(d storage.Dialect, s Schema) []Migration {
	q := s.quoted(d)
	ro, ur, p, rp, o, op := q.Roles, q.UserRoles, q.Permissions, q.RolePermissions, q.Operations, q.OpPermissions
	idx := func(table, suffix string) string {
		return d.Protect("idx_" + table + "_" + suffix)
	}

	return []Migration{
		{
			Version:     1,
			Description: "Create role tree table",
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					%s %s,
					%s VARCHAR(255) NOT NULL,
					%s VARCHAR(64),
					%s BIGINT,
					%s BIGINT NOT NULL,
					%s BIGINT NOT NULL
				)`, ro.Table, ro.ID, d.IdentityColumn(), ro.Name, ro.Type, ro.ParentID, ro.Left, ro.Right),
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)", idx(s.Roles.Table, "bounds"), ro.Table, ro.Left, ro.Right),
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx(s.Roles.Table, "parent"), ro.Table, ro.ParentID),
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx(s.Roles.Table, "name"), ro.Table, ro.Name),
			},
		},
		{
			Version:     2,
			Description: "Create permission tree and operation tables",
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					%s %s,
					%s VARCHAR(255) NOT NULL,
					%s VARCHAR(255),
					%s VARCHAR(16) NOT NULL,
					%s BIGINT,
					%s BIGINT NOT NULL,
					%s BIGINT NOT NULL,
					%s SMALLINT NOT NULL DEFAULT 0
				)`, p.Table, p.ID, d.IdentityColumn(), p.Name, p.Resource, p.Type, p.ParentID, p.Left, p.Right, p.Menu),
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)", idx(s.Permissions.Table, "bounds"), p.Table, p.Left, p.Right),
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)", idx(s.Permissions.Table, "resource"), p.Table, p.Resource, p.Type),
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx(s.Permissions.Table, "name"), p.Table, p.Name),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					%s %s,
					%s VARCHAR(64) NOT NULL UNIQUE
				)`, o.Table, o.ID, d.IdentityColumn(), o.Name),
			},
		},
		{
			Version:     3,
			Description: "Create assignment tables",
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					%s BIGINT NOT NULL,
					%s BIGINT NOT NULL REFERENCES %s (%s),
					%s BIGINT NOT NULL,
					UNIQUE (%s, %s)
				)`, ur.Table, ur.UserID, ur.RoleID, ro.Table, ro.ID, ur.AssignedAt, ur.UserID, ur.RoleID),
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx(s.UserRoles.Table, "role"), ur.Table, ur.RoleID),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					%s BIGINT NOT NULL REFERENCES %s (%s),
					%s BIGINT NOT NULL REFERENCES %s (%s),
					UNIQUE (%s, %s)
				)`, rp.Table, rp.RoleID, ro.Table, ro.ID, rp.PermissionID, p.Table, p.ID, rp.RoleID, rp.PermissionID),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					%s BIGINT NOT NULL REFERENCES %s (%s),
					%s BIGINT NOT NULL REFERENCES %s (%s),
					%s BIGINT NOT NULL REFERENCES %s (%s),
					UNIQUE (%s, %s, %s)
				)`, op.Table, op.OperationID, o.Table, o.ID, op.PermissionID, p.Table, p.ID, op.RoleID, ro.Table, ro.ID,
					op.OperationID, op.PermissionID, op.RoleID),
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)", idx(s.OpPermissions.Table, "permission"), op.Table, op.PermissionID, op.RoleID),
			},
		},
	}
}

// RunMigrations applies every migration not yet recorded, each in its own
// transaction.
func RunMigrations(ctx context.Context, db *sql.DB, d storage.Dialect, s Schema, logger logrus.FieldLogger) error {
	if err := s.Validate(); err != nil {
		return err
	}
	table := d.Protect(migrationsTable)

	_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at BIGINT NOT NULL
		)`, table))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db, table)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations(d, s) {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		err := storage.WithTx(ctx, db, func(tx *sql.Tx) error {
			for _, stmt := range migration.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
				}
			}
			a := storage.NewArgs(d)
			record := fmt.Sprintf("INSERT INTO %s (version, description, applied_at) VALUES (%s, %s, %s)",
				table, a.Add(migration.Version), a.Add(migration.Description), a.Add(time.Now().Unix()))
			if _, err := tx.ExecContext(ctx, record, a.Values()...); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Info("Migration completed")
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB, table string) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM "+table+" ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
