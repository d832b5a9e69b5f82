package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
)

func newVerifyCommand() *Command {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	conn := addConnFlags(fs)

	return &Command{
		Name:        "verify",
		Description: "Check the nested-set invariants of both trees",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return withSession(conn, func(ctx context.Context, s *session) error {
				var failed int
				for _, t := range s.engine.Trees() {
					if err := t.Verify(ctx); err != nil {
						failed++
						fmt.Printf("%s: FAIL %v\n", t.Table(), err)
						continue
					}
					fmt.Printf("%s: ok\n", t.Table())
				}
				if failed > 0 {
					return fmt.Errorf("%d tree(s) failed verification", failed)
				}
				return nil
			})
		},
	}
}

func newCacheFlushCommand() *Command {
	fs := flag.NewFlagSet("cache-flush", flag.ContinueOnError)
	conn := addConnFlags(fs)
	all := fs.Bool("all", false, "Delete every key under the prefix instead of rotating generations")

	return &Command{
		Name:        "cache-flush",
		Description: "Invalidate the shared redis decision cache",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if conn.redisURL == "" {
				return errors.New("redis URL is required (-redis-url or ARBOR_REDIS_URL)")
			}
			return withSession(conn, func(ctx context.Context, s *session) error {
				if *all {
					n, err := s.redis.DeletePattern(ctx, "*")
					if err != nil {
						return err
					}
					fmt.Printf("Deleted %d key(s)\n", n)
					return nil
				}
				s.engine.FlushCache(ctx)
				fmt.Println("Cache invalidated")
				return nil
			})
		},
	}
}
