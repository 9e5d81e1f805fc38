package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/docser/docser/internal/auth"
)

func tokenCMD() *cobra.Command {
	var user string
	var name string
	var groups []string
	var ttl time.Duration
	var secret string

	var token = &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("DOCSER_SERVER_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("signing secret required (--secret or DOCSER_SERVER_JWT_SECRET)")
			}
			signed, err := auth.SignToken(user, groups, name, []byte(secret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().StringVar(&user, "user", "dev-user", "user id claim")
	token.Flags().StringVar(&name, "name", "Dev User", "display name claim")
	token.Flags().StringSliceVar(&groups, "groups", nil, "group id claims")
	token.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	token.Flags().StringVar(&secret, "secret", "", "signing secret (default $DOCSER_SERVER_JWT_SECRET)")

	return token
}
