package cli

import (
	"context"
	"flag"
	"fmt"
)

func newAssignCommand() *Command {
	fs := flag.NewFlagSet("assign", flag.ContinueOnError)
	conn := addConnFlags(fs)
	user := fs.String("user", "", "User id")
	role := fs.String("role", "", "Role id")
	revoke := fs.Bool("revoke", false, "Remove the assignment instead of adding it")
	all := fs.Bool("all", false, "With -revoke, remove every role of the user")

	return &Command{
		Name:        "assign",
		Description: "Assign a role to a user or revoke it",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			userID, err := parseID("user", *user)
			if err != nil {
				return err
			}
			if *all && !*revoke {
				return fmt.Errorf("-all requires -revoke")
			}
			var roleID int64
			if !*all {
				if roleID, err = parseID("role", *role); err != nil {
					return err
				}
			}

			return withSession(conn, func(ctx context.Context, s *session) error {
				switch {
				case *all:
					n, err := s.engine.Bindings.DeleteRoleFromUsers(ctx, userID)
					if err != nil {
						return err
					}
					fmt.Printf("Removed %d role(s) from user %d\n", n, userID)
				case *revoke:
					n, err := s.engine.Bindings.DeAssign(ctx, userID, roleID)
					if err != nil {
						return err
					}
					fmt.Printf("Removed %d assignment(s) of role %d from user %d\n", n, roleID, userID)
				default:
					if err := s.engine.Bindings.Assign(ctx, userID, roleID); err != nil {
						return err
					}
					fmt.Printf("Assigned role %d to user %d\n", roleID, userID)
				}
				return nil
			})
		},
	}
}

func newRolesCommand() *Command {
	fs := flag.NewFlagSet("roles", flag.ContinueOnError)
	conn := addConnFlags(fs)
	user := fs.String("user", "", "User id")
	pages := fs.Bool("pages", false, "List the pages the user may view instead of the roles")

	return &Command{
		Name:        "roles",
		Description: "List the roles or visible pages of a user",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			userID, err := parseID("user", *user)
			if err != nil {
				return err
			}
			return withSession(conn, func(ctx context.Context, s *session) error {
				if *pages {
					grants, err := s.engine.Resolver.GetPagePermissions(ctx, userID)
					if err != nil {
						return err
					}
					for _, g := range grants {
						fmt.Printf("%s%s (#%d) %s\n", indent(g.Depth), g.Name, g.ID, g.Resource)
					}
					return nil
				}

				roles, err := s.engine.Bindings.Roles(ctx, userID)
				if err != nil {
					return err
				}
				for _, r := range roles {
					fmt.Printf("%d\t%s\n", r.ID, r.Name)
				}
				return nil
			})
		},
	}
}
