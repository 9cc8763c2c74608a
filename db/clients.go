package db

import (
	"context"
	"fmt"
	"time"

	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
	"github.com/google/uuid"
)

// UpsertClient inserts a client or replaces the stored registration.
func (h *HeartbeatDB) UpsertClient(ctx context.Context, client models.Client) error {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	err = h.execQuery(ctx, tx, `
		INSERT INTO clients (pid, process_name, last_heartbeat, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pid) DO UPDATE
		SET process_name = EXCLUDED.process_name, last_heartbeat = EXCLUDED.last_heartbeat, registered_at = EXCLUDED.registered_at`,
		client.PID, client.ProcessName, client.LastHeartbeat.UTC(), client.RegisteredAt.UTC())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("error upserting client: %w", err)
	}

	if err := h.CommitTransaction(tx); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

// TouchClient updates the last heartbeat of a stored client.
func (h *HeartbeatDB) TouchClient(ctx context.Context, pid int32, lastHeartbeat time.Time) error {
	_, err := h.DB.ExecContext(ctx, `UPDATE clients SET last_heartbeat = $1 WHERE pid = $2`, lastHeartbeat.UTC(), pid)
	if err != nil {
		return fmt.Errorf("error updating client heartbeat: %w", err)
	}
	return nil
}

// DeleteClient removes a client. Its missed heartbeat history is kept.
func (h *HeartbeatDB) DeleteClient(ctx context.Context, pid int32) error {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	if err := h.execQuery(ctx, tx, `DELETE FROM clients WHERE pid = $1`, pid); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("error executing delete query: %w", err)
	}

	if err := h.CommitTransaction(tx); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

// GetClients returns every stored client ordered by pid.
func (h *HeartbeatDB) GetClients(ctx context.Context) ([]models.Client, error) {
	rows, err := h.DB.QueryContext(ctx, `SELECT pid, process_name, last_heartbeat, registered_at FROM clients ORDER BY pid`)
	if err != nil {
		return nil, fmt.Errorf("error retrieving clients: %w", err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		var c models.Client
		if err := rows.Scan(&c.PID, &c.ProcessName, &c.LastHeartbeat, &c.RegisteredAt); err != nil {
			return nil, fmt.Errorf("error scanning clients: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}
	return clients, nil
}

// InsertMissedHeartbeat records a missed heartbeat.
func (h *HeartbeatDB) InsertMissedHeartbeat(ctx context.Context, missed models.MissedHeartbeat) error {
	id := missed.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err := h.DB.ExecContext(ctx, `
		INSERT INTO missed_heartbeats (id, pid, process_name, host, last_heartbeat, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, missed.PID, missed.ProcessName, missed.Host, missed.LastHeartbeat.UTC(), missed.DetectedAt.UTC())
	if err != nil {
		return fmt.Errorf("error inserting missed heartbeat: %w", err)
	}
	return nil
}

// GetMissedHeartbeats returns the most recent missed heartbeats of a client.
func (h *HeartbeatDB) GetMissedHeartbeats(ctx context.Context, pid int32, limit int) ([]models.MissedHeartbeat, error) {
	rows, err := h.DB.QueryContext(ctx, `
		SELECT id, pid, process_name, host, last_heartbeat, detected_at
		FROM missed_heartbeats WHERE pid = $1 ORDER BY detected_at DESC LIMIT $2`, pid, limit)
	if err != nil {
		return nil, fmt.Errorf("error retrieving missed heartbeats: %w", err)
	}
	defer rows.Close()

	var missed []models.MissedHeartbeat
	for rows.Next() {
		var m models.MissedHeartbeat
		if err := rows.Scan(&m.ID, &m.PID, &m.ProcessName, &m.Host, &m.LastHeartbeat, &m.DetectedAt); err != nil {
			return nil, fmt.Errorf("error scanning missed heartbeats: %w", err)
		}
		missed = append(missed, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating missed heartbeats: %w", err)
	}
	return missed, nil
}
