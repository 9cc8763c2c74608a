package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/appconfig"
	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/events"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the Pulsar consumer that e-mails missed heartbeat events",
	Long: `Consumes missed heartbeat events published by "serve" with the pulsar
notifier and sends each one as an alert e-mail through AWS SES.`,
	Run: func(cmd *cobra.Command, args []string) {

		// Load the config and set up logging
		commonSetUp()

		if err := checkConsumeConfig(appCfg); err != nil {
			log.Fatal().Err(err).Msg("Consumer is not configured")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := log.Logger

		emailer, err := newEmailNotifier(ctx, appCfg, &logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize e-mail notifier")
		}

		// Initialize event consumer
		consumer, err := events.NewEventConsumer(appCfg.Pulsar.URL, appCfg.Pulsar.TopicConsumer, appCfg.Pulsar.Subscription)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize event consumer")
		}
		defer consumer.Close()

		log.Info().Str("topic", appCfg.Pulsar.TopicConsumer).
			Str("subscription", appCfg.Pulsar.Subscription).
			Msg("Waiting for missed heartbeat events")

		for {
			msg, err := consumer.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					log.Info().Msg("Consumer stopped")
					return
				}
				log.Error().Err(err).Msg("Error receiving message")
				continue
			}

			missed, err := events.DecodeEvent(msg.Payload())
			if err != nil {
				// Redelivery ends in the dead-letter topic.
				log.Error().Err(err).Str("payload", string(msg.Payload())).Msg("Invalid missed heartbeat event")
				consumer.Nack(msg)
				continue
			}

			if err := emailer.Notify(ctx, missed); err != nil {
				log.Error().Err(err).Int32("pid", missed.PID).Msg("Failed to send alert e-mail")
				consumer.Nack(msg)
				continue
			}

			if err := consumer.Ack(msg); err != nil {
				log.Error().Err(err).Msg("Failed to acknowledge message")
			}
		}
	},
}

// checkConsumeConfig fails early on settings that would send every event to
// the dead-letter topic.
func checkConsumeConfig(cfg *appconfig.Config) error {
	if cfg.Pulsar.URL == "" {
		return errors.New("pulsar.url is required")
	}
	return cfg.ValidateEmail()
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}
