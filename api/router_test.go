package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/heartbeat"
	"github.com/stretchr/testify/assert"
)

func TestNewRouter_ServesMonitorRegistry(t *testing.T) {
	m := heartbeat.NewMonitor(heartbeat.MonitorOptions{})
	m.Register(context.Background(), 1498144, time.Unix(1677468039, 0), "1498144")

	r := NewRouter("/api", m, nil)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/healthz", http.StatusOK, `"success":1`},
		{"/api/clients", http.StatusOK, `"pid":1498144`},
		{"/api/clients/1498144", http.StatusOK, `"process_name":"1498144"`},
		{"/api/clients/1", http.StatusNotFound, `"error_code":"not_found"`},
		{"/api/clients/1498144/missed", http.StatusServiceUnavailable, `"error_code":"no_database"`},
		{"/clients", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestNewRouter_RejectsWrites(t *testing.T) {
	r := NewRouter("", heartbeat.NewMonitor(heartbeat.MonitorOptions{}), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/clients", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
