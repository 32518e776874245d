// Command towndirctl administers a towndir deployment from the shell.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jwalitptl/towndir/internal/app"
	"github.com/jwalitptl/towndir/internal/config"
)

func main() {
	ctl := &cli.App{
		Name:  "towndirctl",
		Usage: "towndir administration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to config.yml",
				EnvVars: []string{"TOWNDIR_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			cacheCommand(),
			emailCommand(),
			suppressionCommand(),
			tokenCommand(),
			userCommand(),
		},
	}

	if err := ctl.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.LoadConfig(c.String("config"))
}

// withApp builds the full application for one command and tears it down
// afterwards.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// The CLI prints its own results; only warnings and up reach the log.
	cfg.Log.Level = "warn"
	logger := app.NewLogger(cfg.Log)

	a, err := app.New(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(c.Context, a)
}
