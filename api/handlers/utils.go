package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
)

// WriteResponse writes response as JSON with the given status code.
func WriteResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")

	w.Header().Set("Cache-Control", "max-age=0")

	w.WriteHeader(statusCode)

	if response != nil {
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
			return
		}
	}
}

// WriteError writes a failed models.Response.
func WriteError(w http.ResponseWriter, statusCode int, code, details string) {
	WriteResponse(w, statusCode, models.Response{
		Success:      0,
		ErrorCode:    code,
		ErrorDetails: details,
	})
}
