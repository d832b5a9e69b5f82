package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/platinummonkey/arbor/pkg/rbac"
)

func newTreeCommand() *Command {
	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	conn := addConnFlags(fs)
	table := fs.String("table", "roles", "Tree to dump: roles or permissions")
	asJSON := fs.Bool("json", false, "Print the nodes as JSON")

	return &Command{
		Name:        "tree",
		Description: "Dump the role or permission tree",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return withSession(conn, func(ctx context.Context, s *session) error {
				switch *table {
				case "roles":
					roles, err := s.engine.Directory.GetAllRoles(ctx)
					if err != nil {
						return err
					}
					if *asJSON {
						return printJSON(roles)
					}
					printRoles(roles)
				case "permissions":
					perms, err := s.engine.Registry.GetPermissionTree(ctx)
					if err != nil {
						return err
					}
					if *asJSON {
						return printJSON(perms)
					}
					printPermissions(perms)
				default:
					return fmt.Errorf("unknown table %q: expected roles or permissions", *table)
				}
				return nil
			})
		},
	}
}

func printRoles(roles []rbac.Role) {
	bounds := make([][2]int64, len(roles))
	for i, r := range roles {
		bounds[i] = [2]int64{r.Left, r.Right}
	}
	for i, depth := range depths(bounds) {
		r := roles[i]
		line := fmt.Sprintf("%s%s (#%d)", indent(depth), r.Name, r.ID)
		if r.Type != "" {
			line += " [" + r.Type + "]"
		}
		fmt.Println(line)
	}
}

func printPermissions(perms []rbac.Permission) {
	bounds := make([][2]int64, len(perms))
	for i, p := range perms {
		bounds[i] = [2]int64{p.Left, p.Right}
	}
	for i, depth := range depths(bounds) {
		p := perms[i]
		line := fmt.Sprintf("%s%s (#%d) %s %s", indent(depth), p.Name, p.ID, p.Type, p.Resource)
		if p.Menu {
			line += " [menu]"
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
}

// depths returns the nesting depth of each node of a pre-ordered nested-set
// listing.
func depths(bounds [][2]int64) []int {
	out := make([]int, len(bounds))
	var open []int64
	for i, b := range bounds {
		for len(open) > 0 && open[len(open)-1] < b[0] {
			open = open[:len(open)-1]
		}
		out[i] = len(open)
		open = append(open, b[1])
	}
	return out
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
