package models

import "time"

// Client is a monitored process as tracked by the heartbeat server.
type Client struct {
	PID           int32     `json:"pid"`
	ProcessName   string    `json:"process_name"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at,omitempty"`
	// Missed is set once the client has been reported and cleared by its next heartbeat.
	Missed bool `json:"missed"`
}

// MissedHeartbeat describes a client that has not sent a heartbeat within the threshold.
type MissedHeartbeat struct {
	ID            string    `json:"id,omitempty"`
	PID           int32     `json:"pid"`
	ProcessName   string    `json:"process_name"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	DetectedAt    time.Time `json:"detected_at"`
	Host          string    `json:"host,omitempty"`
}
