package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jwalitptl/towndir/internal/app"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/service/suppression"
)

func suppressionCommand() *cli.Command {
	return &cli.Command{
		Name:  "suppression",
		Usage: "Manage addresses that never receive mail",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List suppressed addresses",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "search", Usage: "Substring of the address or details"},
					&cli.StringFlag{Name: "reason", Usage: "Only this reason"},
					&cli.IntFlag{Name: "limit", Value: 100},
				},
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						rows, total, err := a.Suppressions.List(ctx, model.SuppressionFilter{
							Search:     c.String("search"),
							Reason:     model.SuppressionReason(c.String("reason")),
							Pagination: model.Pagination{Page: 1, PageSize: c.Int("limit")},
						})
						if err != nil {
							return err
						}
						if total == 0 {
							fmt.Fprintln(os.Stderr, "No suppressed addresses.")
							return nil
						}

						fmt.Printf("%-45s %-18s %-16s %s\n", "Email", "Reason", "Source", "Added")
						for _, r := range rows {
							fmt.Printf("%-45s %-18s %-16s %s\n", r.Email, r.Reason, r.Source, r.CreatedAt.Format("2006-01-02 15:04:05"))
						}
						if int64(len(rows)) < total {
							fmt.Fprintf(os.Stderr, "Showing %d of %d.\n", len(rows), total)
						}
						return nil
					})
				},
			},
			{
				Name:      "add",
				Usage:     "Suppress an address",
				ArgsUsage: "EMAIL [DETAILS]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Value: string(model.ReasonManual), Usage: "Suppression reason"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("EMAIL is required")
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						row, err := a.Suppressions.Add(ctx, suppression.Entry{
							Email:   c.Args().First(),
							Reason:  model.SuppressionReason(c.String("reason")),
							Details: c.Args().Get(1),
							Source:  model.SuppressionSourceCLI,
						})
						if err != nil {
							return err
						}
						fmt.Printf("Suppressed: %s (%s)\n", row.Email, row.Reason)
						return nil
					})
				},
			},
			{
				Name:      "remove",
				Usage:     "Allow mail to an address again",
				ArgsUsage: "EMAIL",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("EMAIL is required")
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						removed, err := a.Suppressions.Remove(ctx, c.Args().First())
						if err != nil {
							return err
						}
						if !removed {
							fmt.Fprintln(os.Stderr, "Address was not suppressed.")
							return nil
						}
						fmt.Printf("Removed: %s\n", model.NormalizeEmail(c.Args().First()))
						return nil
					})
				},
			},
		},
	}
}
