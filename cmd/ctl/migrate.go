package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"github.com/jwalitptl/towndir/internal/repository/postgres"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply every pending migration",
				Action: migrateAction(postgres.Migrate),
			},
			{
				Name:   "down",
				Usage:  "Roll back the latest migration",
				Action: migrateAction(postgres.Rollback),
			},
			{
				Name:  "status",
				Usage: "Print the current schema version",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					db, err := postgres.NewDB(cfg.Database)
					if err != nil {
						return err
					}
					defer db.Close()

					v, err := postgres.MigrationVersion(c.Context, db)
					if err != nil {
						return err
					}
					fmt.Printf("Schema version: %d\n", v)
					return nil
				},
			},
		},
	}
}

func migrateAction(run func(ctx context.Context, db *sqlx.DB) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := run(c.Context, db); err != nil {
			return err
		}
		v, err := postgres.MigrationVersion(c.Context, db)
		if err != nil {
			return err
		}
		fmt.Printf("Schema version: %d\n", v)
		return nil
	}
}
