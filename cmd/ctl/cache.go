package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/jwalitptl/towndir/internal/app"
	"github.com/jwalitptl/towndir/internal/cache"
	"github.com/jwalitptl/towndir/internal/model"
)

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Invalidate cached directory pages",
		Description: `Invalidations reach redis directly and every running API process
through the invalidation channel. Per-process hit statistics are only
available from GET /api/v1/admin/cache/stats.
`,
		Subcommands: []*cli.Command{
			{
				Name:      "invalidate",
				Usage:     "Drop one key from every tier",
				ArgsUsage: "KEY",
				Action: func(c *cli.Context) error {
					key := c.Args().First()
					if _, err := cache.ParseKey(key); err != nil {
						return err
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						if err := a.Cache.Invalidate(ctx, key); err != nil {
							return err
						}
						fmt.Printf("Invalidated: %s\n", key)
						return nil
					})
				},
			},
			{
				Name:      "cascade",
				Usage:     "Drop every key that embeds an entity",
				ArgsUsage: "person|town|homepage",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "town", Usage: "Town slug"},
					&cli.StringFlag{Name: "person", Usage: "Person slug"},
					&cli.StringFlag{Name: "previous-town", Usage: "Town the person moved from"},
				},
				Action: func(c *cli.Context) error {
					kind, err := model.ParseEntityKind(c.Args().First())
					if err != nil {
						return err
					}
					ref := model.EntityRef{
						Kind:             kind,
						TownSlug:         c.String("town"),
						PersonSlug:       c.String("person"),
						PreviousTownSlug: c.String("previous-town"),
					}
					keys, err := cache.CascadeKeys(ref)
					if err != nil {
						return err
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						if err := a.Cache.InvalidateCascade(ctx, ref); err != nil {
							return err
						}
						for _, k := range keys {
							fmt.Printf("Invalidated: %s\n", k)
						}
						return nil
					})
				},
			},
			{
				Name:      "clear",
				Usage:     "Empty a tier",
				ArgsUsage: "memory|redis",
				Action: func(c *cli.Context) error {
					tier, err := model.ParseTier(c.Args().First())
					if err != nil {
						return err
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						n, err := a.Cache.Clear(ctx, tier)
						if err != nil {
							return err
						}
						fmt.Printf("Cleared %s tier: %d entries\n", tier, n)
						return nil
					})
				},
			},
		},
	}
}
