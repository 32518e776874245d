package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/jwalitptl/towndir/internal/app"
	"github.com/jwalitptl/towndir/internal/model"
)

func emailCommand() *cli.Command {
	return &cli.Command{
		Name:  "email",
		Usage: "Inspect and drive the notification queue",
		Subcommands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Count notifications by status",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						stats, err := a.Notifications.GetEmailStats(ctx)
						if err != nil {
							return err
						}
						for _, st := range model.EmailStatuses {
							fmt.Printf("%-10s %d\n", st, stats.ByStatus[st])
						}
						fmt.Printf("%-10s %d\n", "TOTAL", stats.Total)
						return nil
					})
				},
			},
			{
				Name:      "retry",
				Usage:     "Requeue failed notifications below the retry ceiling",
				ArgsUsage: "[ID...]",
				Action: func(c *cli.Context) error {
					ids, err := parseIDs(c.Args().Slice())
					if err != nil {
						return err
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						n, err := a.Notifications.RetryFailedEmails(ctx, ids)
						if err != nil {
							return err
						}
						fmt.Printf("Requeued: %d\n", n)
						return nil
					})
				},
			},
			{
				Name:      "force-retry",
				Usage:     "Requeue failed notifications and reset their retry count",
				ArgsUsage: "ID...",
				Action: func(c *cli.Context) error {
					ids, err := requireIDs(c)
					if err != nil {
						return err
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						n, err := a.Notifications.ForceRetry(ctx, ids)
						if err != nil {
							return err
						}
						fmt.Printf("Requeued: %d\n", n)
						return nil
					})
				},
			},
			{
				Name:      "send",
				Usage:     "Send queued notifications now",
				ArgsUsage: "ID...",
				Action: func(c *cli.Context) error {
					ids, err := requireIDs(c)
					if err != nil {
						return err
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						report, err := a.Notifications.SendSelected(ctx, ids)
						printReport(report)
						return err
					})
				},
			},
			{
				Name:  "dispatch",
				Usage: "Run one dispatch pass over due notifications",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "Maximum rows to send"},
				},
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						if _, err := a.Notifications.RecoverStuck(ctx); err != nil {
							return err
						}
						report, err := a.Notifications.DispatchDue(ctx, c.Int("limit"))
						printReport(report)
						return err
					})
				},
			},
		},
	}
}

func printReport(r model.SendReport) {
	fmt.Printf("Sent: %d  Failed: %d  Skipped: %d\n", r.Sent, r.Failed, r.Skipped)
}

// parseIDs returns nil for an empty list, which the retry commands read as
// "every row".
func parseIDs(args []string) ([]uuid.UUID, error) {
	if len(args) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func requireIDs(c *cli.Context) ([]uuid.UUID, error) {
	if c.NArg() == 0 {
		return nil, fmt.Errorf("at least one ID is required")
	}
	return parseIDs(c.Args().Slice())
}
