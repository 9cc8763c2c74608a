package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EO-DataHub/eodhp-heartbeat-services/api"
	"github.com/EO-DataHub/eodhp-heartbeat-services/api/handlers"
	"github.com/EO-DataHub/eodhp-heartbeat-services/db"
	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/heartbeat"
	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/socket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	serveSocket string
	host        string
	port        int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the heartbeat server on a Unix datagram socket",
	Run: func(cmd *cobra.Command, args []string) {

		// Load the config and set up logging
		commonSetUp()

		if cmd.Flags().Changed("socket") {
			appCfg.Server.Socket = serveSocket
		}
		if cmd.Flags().Changed("host") {
			appCfg.API.Host = host
		}
		if cmd.Flags().Changed("port") {
			appCfg.API.Port = port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := log.Logger

		// Optional persistence
		var heartbeatDB *db.HeartbeatDB
		var store heartbeat.Store
		var history handlers.History
		if appCfg.Database.Enabled {
			if appCfg.Database.Source != "" {
				os.Setenv("DATABASE_URL", appCfg.Database.Source)
			}

			var err error
			heartbeatDB, err = db.NewHeartbeatDB(&logger)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to initialize HeartbeatDB")
			}
			defer heartbeatDB.Close()

			store, history = heartbeatDB, heartbeatDB
		}

		notifier, closeNotifier, err := buildNotifier(ctx, appCfg, &logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize notifiers")
		}
		defer closeNotifier()

		monitor := heartbeat.NewMonitor(heartbeat.MonitorOptions{
			Threshold: appCfg.Server.Threshold,
			Notifier:  notifier,
			Store:     store,
			Log:       &logger,
		})

		// Clients that were registered before a restart keep being watched.
		if heartbeatDB != nil {
			clients, err := heartbeatDB.GetClients(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to restore clients from database")
			} else {
				monitor.Restore(clients)
				log.Info().Int("client_count", len(clients)).Msg("Restored clients from database")
			}
		}

		server := socket.NewServer(monitor, socket.Options{
			Path:    appCfg.Server.Socket,
			Timeout: appCfg.Server.Timeout,
			BufSize: appCfg.Server.BufSize,
		}, &logger)

		if err := server.Bind(); err != nil {
			log.Fatal().Err(err).Msg("Failed to bind heartbeat socket")
		}

		var httpServer *http.Server
		if appCfg.API.Enabled {
			addr := fmt.Sprintf("%s:%d", appCfg.API.Host, appCfg.API.Port)
			httpServer = &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(appCfg.API.BasePath, monitor, history),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				log.Info().Msg(fmt.Sprintf("Status API started at %s", addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("could not start status API")
				}
			}()
		}

		log.Info().Str("path", server.Path()).
			Dur("timeout", appCfg.Server.Timeout).
			Dur("threshold", appCfg.Server.Threshold).
			Msg("Heartbeat server listening")

		errc := make(chan error, 1)
		go func() { errc <- server.Serve(ctx) }()

		select {
		case <-ctx.Done():
			log.Info().Msg("Shutdown signal received")
		case err := <-errc:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Heartbeat server stopped")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down heartbeat server")
		}
		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shut down status API")
			}
		}

		log.Info().Msg("Heartbeat server stopped")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "socket path to bind, generated under /tmp/unx_ss/ when empty")
	serveCmd.Flags().StringVar(&host, "host", "0.0.0.0", "host to run the status API on")
	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run the status API on")
}
