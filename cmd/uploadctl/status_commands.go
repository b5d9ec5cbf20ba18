package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newStatCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Show the upload in flight and pending jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := ctx.call(cmd.Context(), "GET", "/stat", nil, "")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show recently finished uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := ctx.call(cmd.Context(), "GET", "/history", nil, "")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "retry <event_id>",
		Short: "Queue a stored event for upload again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := ctx.call(cmd.Context(), "POST", "/retry/"+url.PathEscape(args[0]), nil, token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", envOr("UPLOADMGR_TOKEN", ""), "Operator token when the server requires one")
	return cmd
}
