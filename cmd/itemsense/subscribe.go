package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/itemsense-client/pkg/broker"
	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSubscribeCmd(a *app) *cobra.Command {
	var (
		queueCfg     model.ZoneTransitionQueueConfig
		amqpUser     string
		amqpPassword string
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Stream zone transition messages",
		Long: `Configure a zone transition message queue on the platform, then print each
message body on its own line until interrupted. The connection is
re-established with exponential backoff if the broker drops it.

Broker credentials default to the API credentials.`,
		Example: `  itemsense subscribe --to-zone DOCK
  itemsense subscribe --epc 3030 --amqp-user admin --amqp-password admindefault`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := a.newClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			details, err := api.ConfigureZoneTransitionQueue(ctx, queueCfg)
			if err != nil {
				return err
			}
			log.Info().
				Str("server_url", details.ServerURL).
				Str("queue", details.Queue).
				Msg("Zone transition queue configured")

			user, password := amqpUser, amqpPassword
			if user == "" {
				user, password = a.cfg.API.Username, a.cfg.API.Password
			}
			brokerCfg, err := broker.ConfigFromQueue(*details, user, password)
			if err != nil {
				return err
			}
			sub, err := broker.NewSubscriber(brokerCfg, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return sub.Run(ctx, func(_ context.Context, body string) {
				fmt.Fprintln(out, body)
			})
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&queueCfg.FromZone, "from-zone", "", "Only transitions out of this zone")
	fs.StringVar(&queueCfg.ToZone, "to-zone", "", "Only transitions into this zone")
	fs.StringVar(&queueCfg.EPC, "epc", "", "Only transitions of EPCs with this prefix")
	fs.StringVar(&amqpUser, "amqp-user", "", "Broker username")
	fs.StringVar(&amqpPassword, "amqp-password", "", "Broker password")

	return cmd
}
