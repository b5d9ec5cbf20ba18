package main

import (
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aura-webinar/uploadmgr/internal/notify"
	"github.com/aura-webinar/uploadmgr/pkg/redis"
)

func newWatchCommand() *cobra.Command {
	var (
		addr     string
		password string
		channel  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow upload notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := redis.NewClient(ctx, addr, password, 0, nil)
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("--redis is required")
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			return notify.NewRedisPubSub(client.Client, channel, nil).Subscribe(ctx, func(n notify.Notification) {
				_ = enc.Encode(n)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "redis", envOr("REDIS_ADDR", ""), "Redis address")
	cmd.Flags().StringVar(&password, "redis-password", envOr("REDIS_PASSWORD", ""), "Redis password")
	cmd.Flags().StringVar(&channel, "channel", envOr("REDIS_CHANNEL", notify.DefaultChannel), "Notification channel")
	return cmd
}

