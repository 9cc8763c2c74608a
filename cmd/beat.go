package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/heartbeat"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	beatSocket string
	beatID     string
	beatRate   time.Duration
)

var beatCmd = &cobra.Command{
	Use:   "beat",
	Short: "Send heartbeats for this process to a heartbeat server",
	Long: `Registers with the server at --socket, sends a heartbeat every --rate and
deregisters on SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {

		// Load the config and set up logging
		commonSetUp()

		if cmd.Flags().Changed("socket") {
			appCfg.Client.Socket = beatSocket
		}
		if cmd.Flags().Changed("id") {
			appCfg.Client.ID = beatID
		}
		if cmd.Flags().Changed("rate") {
			appCfg.Client.Rate = beatRate
		}

		logger := log.Logger
		client, err := heartbeat.NewClient(heartbeat.ClientOptions{
			Destination: appCfg.Client.Socket,
			ID:          appCfg.Client.ID,
			Rate:        appCfg.Client.Rate,
			Log:         &logger,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create heartbeat client")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Str("socket", appCfg.Client.Socket).
			Str("id", client.ID()).
			Dur("rate", client.Rate()).
			Msg("Sending heartbeats")

		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("Heartbeat client stopped")
		}
	},
}

func init() {
	rootCmd.AddCommand(beatCmd)
	beatCmd.Flags().StringVar(&beatSocket, "socket", "", "socket path of the heartbeat server")
	beatCmd.Flags().StringVar(&beatID, "id", "", "identifier sent on registration, at most 12 bytes")
	beatCmd.Flags().DurationVar(&beatRate, "rate", heartbeat.DefaultRate, "interval between heartbeats")
}
