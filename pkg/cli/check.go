package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/arbor/pkg/rbac"
)

func newCheckCommand() *Command {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	conn := addConnFlags(fs)
	user := fs.String("user", "", "User id")
	resource := fs.String("resource", "", "Page resource")
	level := fs.String("level", string(rbac.LevelPage), "Check level: page, object or element")
	object := fs.String("object", "", "Object permission name for element checks")
	perms := fs.String("permissions", "", "Comma separated object or element permission names")
	ops := fs.String("operations", rbac.OperationView, "Comma separated operations")

	return &Command{
		Name:        "check",
		Description: "Evaluate a permission check for a user",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			userID, err := parseID("user", *user)
			if err != nil {
				return err
			}
			req := rbac.CheckRequest{
				UserID:      userID,
				Resource:    *resource,
				Level:       rbac.Level(*level),
				Object:      *object,
				Permissions: splitList(*perms),
				Operations:  splitList(*ops),
			}
			return withSession(conn, func(ctx context.Context, s *session) error {
				allowed, err := s.engine.Resolver.Check(ctx, req)
				if err != nil {
					return err
				}
				if allowed {
					fmt.Println("allowed")
				} else {
					fmt.Println("denied")
				}
				return nil
			})
		},
	}
}
