package cmd

import (
	"os"

	"github.com/EO-DataHub/eodhp-heartbeat-services/db"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "init-db-migrate",
	Short: "Initialize tables and run database migrations",
	Long:  `This job ensures the heartbeat tables exist by running the embedded goose migrations.`,
	Run: func(cmd *cobra.Command, args []string) {

		// Load the config and set up logging
		commonSetUp()

		if appCfg.Database.Source != "" {
			if err := os.Setenv("DATABASE_URL", appCfg.Database.Source); err != nil {
				log.Fatal().Err(err).Msg("Error setting DATABASE_URL")
			}
		}

		logger := log.Logger
		heartbeatDB, err := db.NewHeartbeatDB(&logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize HeartbeatDB")
		}
		defer heartbeatDB.Close()

		// Run the migrations
		log.Info().Msg("Running migrations...")
		if err := heartbeatDB.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}

		log.Info().Msg("Migrations complete")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
