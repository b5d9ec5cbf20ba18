package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aura-webinar/uploadmgr/internal/auth"
)

func newTokenCommand() *cobra.Command {
	var (
		secret   string
		operator string
		hours    int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for retry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			token, err := auth.NewJWTService(secret, hours).Generate(operator, auth.RoleOperator)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", envOr("JWT_SECRET", ""), "Server JWT secret")
	cmd.Flags().StringVar(&operator, "operator", envOr("USER", "operator"), "Operator name recorded in the token")
	cmd.Flags().IntVar(&hours, "hours", 24, "Token lifetime in hours")
	return cmd
}
