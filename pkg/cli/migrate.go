package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/arbor/pkg/rbac"
	"github.com/platinummonkey/arbor/pkg/storage"
)

func newMigrateCommand() *Command {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	conn := addConnFlags(fs)
	list := fs.Bool("list", false, "Print the migrations for the dialect without applying them")

	return &Command{
		Name:        "migrate",
		Description: "Create or upgrade the RBAC tables",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *list {
				return listMigrations(conn)
			}
			return withSession(conn, func(ctx context.Context, s *session) error {
				if err := rbac.RunMigrations(ctx, s.db, s.dialect, s.schema, s.logger); err != nil {
					return err
				}
				fmt.Println("Migrations applied")
				return nil
			})
		},
	}
}

func listMigrations(conn *connFlags) error {
	dialect, err := storage.DialectFor(conn.dialect)
	if err != nil {
		return err
	}
	schema := rbac.DefaultSchema()
	if conn.schemaFile != "" {
		if schema, err = rbac.LoadSchema(conn.schemaFile); err != nil {
			return err
		}
	}
	for _, m := range rbac.GetMigrations(dialect, schema) {
		fmt.Printf("%3d  %s\n", m.Version, m.Description)
	}
	return nil
}
