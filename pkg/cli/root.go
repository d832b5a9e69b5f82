package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Command is one arborctl subcommand, or the root that dispatches to them.
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "arborctl",
		Description: "arborctl - operator CLI for the arbor RBAC engine",
		Subcommands: make(map[string]*Command),
	}
	for _, sub := range []*Command{
		newMigrateCommand(),
		newTreeCommand(),
		newCheckCommand(),
		newAssignCommand(),
		newRolesCommand(),
		newVerifyCommand(),
		newCacheFlushCommand(),
	} {
		root.Subcommands[sub.Name] = sub
	}
	return root
}

// Execute dispatches args, which exclude the program name. "help <command>"
// prints that command's flags; -h on a subcommand is not an error.
func (c *Command) Execute(args []string) error {
	if len(args) == 0 || isHelp(args[0]) {
		return c.usage()
	}
	if args[0] == "help" {
		if len(args) == 1 {
			return c.usage()
		}
		sub, err := c.lookup(args[1])
		if err != nil {
			return err
		}
		return sub.help()
	}

	sub, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	if err := sub.Run(args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		return err
	}
	return nil
}

func isHelp(arg string) bool {
	return strings.EqualFold(arg, "-h") || strings.EqualFold(arg, "--help")
}

func (c *Command) lookup(name string) (*Command, error) {
	if sub, ok := c.Subcommands[name]; ok {
		return sub, nil
	}
	var similar []string
	for _, candidate := range c.names() {
		if strings.HasPrefix(candidate, name) || strings.HasPrefix(name, candidate) {
			similar = append(similar, candidate)
		}
	}
	if len(similar) > 0 {
		return nil, fmt.Errorf("unknown command: %s (did you mean %s?)", name, strings.Join(similar, " or "))
	}
	return nil, fmt.Errorf("unknown command: %s", name)
}

func (c *Command) names() []string {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [flags]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	for _, name := range c.names() {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	fmt.Printf("\nRun '%s help <command>' for the flags of a command.\n", c.Name)
	return nil
}

func (c *Command) help() error {
	fmt.Printf("Usage: arborctl %s [flags]\n\n%s\n\nFlags:\n", c.Name, c.Description)
	if c.Flags != nil {
		c.Flags.SetOutput(os.Stdout)
		c.Flags.PrintDefaults()
	}
	return nil
}
