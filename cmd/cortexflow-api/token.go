package main

import (
	"context"
	"os"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/auth"
	"github.com/cortexbuild/cortexflow/pkg/models"
	cli "github.com/urfave/cli/v3"
)

func tokenCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "user-id", Usage: "Subject of the token", Required: true},
		&cli.StringFlag{Name: "role", Usage: "super_admin, company_admin, developer or user", Value: "user"},
		&cli.StringFlag{Name: "company-id", Usage: "Tenant of the token"},
		&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 24 * time.Hour},
	}

	return &cli.Command{
		Name:  "token",
		Usage: "Issue a development access token",
		Flags: flags,
		Action: func(_ context.Context, command *cli.Command) error {
			authenticator, err := auth.NewAuthenticator(command.String("jwt-secret"), command.String("jwt-issuer"))
			if err != nil {
				return err
			}

			token, err := issueToken(authenticator, command)
			if err != nil {
				return err
			}

			_, err = os.Stdout.WriteString(token + "\n")

			return err
		},
	}
}

func issueToken(authenticator *auth.Authenticator, command *cli.Command) (string, error) {
	actor := models.Actor{
		UserID:    command.String("user-id"),
		Role:      command.String("role"),
		CompanyID: command.String("company-id"),
	}

	return authenticator.Issue(actor, command.Duration("ttl"))
}
