package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const defaultHistoryLimit = 50

// Registry exposes the live client registry.
type Registry interface {
	Clients() []models.Client
	Client(pid int32) (models.Client, bool)
}

// History exposes stored missed heartbeats.
type History interface {
	GetMissedHeartbeats(ctx context.Context, pid int32, limit int) ([]models.MissedHeartbeat, error)
}

// Health reports that the server is up.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteResponse(w, http.StatusOK, models.Response{Success: 1})
	}
}

// GetClients lists all registered clients.
func GetClients(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		clients := reg.Clients()

		logger.Debug().Int("client_count", len(clients)).Msg("Successfully retrieved clients")
		WriteResponse(w, http.StatusOK, models.Response{Success: 1, Data: clients})
	}
}

// GetClient returns a single client by pid.
func GetClient(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		pid, ok := parsePID(w, r)
		if !ok {
			return
		}

		client, found := reg.Client(pid)
		if !found {
			logger.Warn().Int32("pid", pid).Msg("Client not found")
			WriteError(w, http.StatusNotFound, "not_found", "client is not registered")
			return
		}

		WriteResponse(w, http.StatusOK, models.Response{Success: 1, Data: client})
	}
}

// GetMissedHeartbeats returns the stored missed heartbeats of a client. A nil
// History means persistence is disabled.
func GetMissedHeartbeats(history History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		if history == nil {
			WriteError(w, http.StatusServiceUnavailable, "no_database", "missed heartbeat history is not enabled")
			return
		}

		pid, ok := parsePID(w, r)
		if !ok {
			return
		}

		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			limit = n
		}

		missed, err := history.GetMissedHeartbeats(r.Context(), pid, limit)
		if err != nil {
			logger.Error().Err(err).Int32("pid", pid).Msg("Failed to retrieve missed heartbeats from database")
			WriteError(w, http.StatusInternalServerError, "database_error", "failed to retrieve missed heartbeats")
			return
		}

		if missed == nil {
			missed = []models.MissedHeartbeat{}
		}

		WriteResponse(w, http.StatusOK, models.Response{Success: 1, Data: missed})
	}
}

func parsePID(w http.ResponseWriter, r *http.Request) (int32, bool) {
	pid, err := strconv.ParseInt(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Invalid pid")
		WriteError(w, http.StatusBadRequest, "invalid_pid", "pid must be an integer")
		return 0, false
	}
	return int32(pid), true
}
