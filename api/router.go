package api

import (
	"net/http"

	"github.com/EO-DataHub/eodhp-heartbeat-services/api/handlers"
	"github.com/EO-DataHub/eodhp-heartbeat-services/api/middleware"
	"github.com/gorilla/mux"
)

// NewRouter registers the status API routes under basePath. history may be nil.
func NewRouter(basePath string, reg handlers.Registry, history handlers.History) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithLogger)

	r.HandleFunc("/healthz", handlers.Health()).Methods(http.MethodGet)

	api := r
	if basePath != "" && basePath != "/" {
		api = r.PathPrefix(basePath).Subrouter()
	}
	api.HandleFunc("/clients", handlers.GetClients(reg)).Methods(http.MethodGet)
	api.HandleFunc("/clients/{pid}", handlers.GetClient(reg)).Methods(http.MethodGet)
	api.HandleFunc("/clients/{pid}/missed", handlers.GetMissedHeartbeats(history)).Methods(http.MethodGet)

	return r
}
