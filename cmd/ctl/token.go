package main

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/jwalitptl/towndir/internal/app"
	tokenhandler "github.com/jwalitptl/towndir/internal/handler/token"
	"github.com/jwalitptl/towndir/internal/middleware"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/service/token"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue link and admin tokens",
		Subcommands: []*cli.Command{
			{
				Name:  "issue",
				Usage: "Issue an opt-out or magic link token for a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Value: string(model.TokenKindOptOut), Usage: "opt_out or magic_link"},
					&cli.StringFlag{Name: "user", Usage: "User id or email", Required: true},
					&cli.StringFlag{Name: "person", Usage: "Limit the token to one person id"},
				},
				Action: func(c *cli.Context) error {
					var personID *uuid.UUID
					if p := c.String("person"); p != "" {
						id, err := uuid.Parse(p)
						if err != nil {
							return fmt.Errorf("invalid person id: %w", err)
						}
						personID = &id
					}

					return withApp(c, func(ctx context.Context, a *app.App) error {
						userID, err := resolveUser(ctx, a, c.String("user"))
						if err != nil {
							return err
						}

						var issued *token.Issued
						switch model.TokenKind(c.String("kind")) {
						case model.TokenKindOptOut:
							issued, err = a.Tokens.GenerateOptOutToken(ctx, userID, personID)
						case model.TokenKindMagicLink:
							issued, err = a.Tokens.GenerateMagicLinkToken(ctx, userID, personID)
						default:
							return fmt.Errorf("unknown token kind %q", c.String("kind"))
						}
						if err != nil {
							return err
						}

						fmt.Printf("Token:   %s\n", issued.Secret)
						fmt.Printf("Expires: %s\n", issued.ExpiresAt.Format(time.RFC3339))
						if issued.Kind == model.TokenKindOptOut {
							fmt.Printf("Link:    %s\n", tokenhandler.UnsubscribeURL(a.Config.Tokens.BaseURL, issued.Secret))
						} else {
							fmt.Printf("Link:    %s\n", tokenhandler.MagicLinkURL(a.Config.Tokens.BaseURL, issued.Secret))
						}
						return nil
					})
				},
			},
			{
				Name:      "open",
				Usage:     "Show the scope and opt-outs a magic link grants",
				ArgsUsage: "TOKEN",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						prefs, err := a.Tokens.OpenMagicLink(ctx, c.Args().First())
						if err != nil {
							return err
						}
						fmt.Printf("User:     %s\n", prefs.Scope.UserID)
						if prefs.Scope.PersonID != nil {
							fmt.Printf("Person:   %s\n", *prefs.Scope.PersonID)
						}
						fmt.Printf("Opt-outs: %d\n", len(prefs.OptOuts))
						for _, o := range prefs.OptOuts {
							scope := "all persons"
							if o.PersonID != nil {
								scope = o.PersonID.String()
							}
							fmt.Printf("  %s  %s\n", o.CreatedAt.Format(time.RFC3339), scope)
						}
						return nil
					})
				},
			},
			{
				Name:      "revoke",
				Usage:     "Revoke a token",
				ArgsUsage: "TOKEN",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, a *app.App) error {
						if err := a.Tokens.Revoke(ctx, c.Args().First()); err != nil {
							return err
						}
						fmt.Println("Revoked.")
						return nil
					})
				},
			},
			{
				Name:  "admin",
				Usage: "Sign a bearer token for the admin API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Value: "towndirctl", Usage: "Who the token identifies"},
					&cli.DurationFlag{Name: "ttl", Value: 12 * time.Hour},
				},
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					if cfg.Admin.JWTSecret == "" {
						return fmt.Errorf("admin.jwt_secret is not configured")
					}

					now := time.Now()
					signed, err := middleware.IssueAdminToken(cfg.Admin.JWTSecret, c.String("subject"), jwt.RegisteredClaims{
						IssuedAt:  jwt.NewNumericDate(now),
						ExpiresAt: jwt.NewNumericDate(now.Add(c.Duration("ttl"))),
					})
					if err != nil {
						return err
					}
					fmt.Println(signed)
					return nil
				},
			},
		},
	}
}

func resolveUser(ctx context.Context, a *app.App, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	u, err := a.Users.GetByEmail(ctx, ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("look up user %s: %w", ref, err)
	}
	return u.ID, nil
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage notification recipients",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Register a recipient",
				ArgsUsage: "EMAIL [NAME]",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("EMAIL is required")
					}
					return withApp(c, func(ctx context.Context, a *app.App) error {
						u := &model.User{Email: c.Args().First(), Name: c.Args().Get(1)}
						if err := a.Users.Create(ctx, u); err != nil {
							return err
						}
						fmt.Printf("Created: %s %s\n", u.ID, u.Email)
						return nil
					})
				},
			},
		},
	}
}
