package main

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:23380"

type commandContext struct {
	server string
	client *http.Client
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{client: &http.Client{Timeout: 30 * time.Second}}

	rootCmd := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Recording upload manager CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.server, "server", "s", envOr("UPLOADMGR_SERVER", defaultServer), "Upload manager base URL")

	rootCmd.AddCommand(newSendCommand(ctx))
	rootCmd.AddCommand(newStatCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newRetryCommand(ctx))
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
