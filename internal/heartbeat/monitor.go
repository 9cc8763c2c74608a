package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/packet"
	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/socket"
	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
	"github.com/rs/zerolog"
)

// DefaultThreshold is the longest a client may stay silent before it is reported.
//
// Clients should beat well below this interval, otherwise a single lost packet
// raises a false alarm.
const DefaultThreshold = 10 * time.Second

var ErrUnknownClient = errors.New("unknown client")

// Notifier is told about clients that missed their heartbeat.
type Notifier interface {
	Notify(ctx context.Context, missed models.MissedHeartbeat) error
}

// Store persists registry changes. Failures are logged and never block the monitor.
type Store interface {
	UpsertClient(ctx context.Context, client models.Client) error
	TouchClient(ctx context.Context, pid int32, lastHeartbeat time.Time) error
	DeleteClient(ctx context.Context, pid int32) error
	InsertMissedHeartbeat(ctx context.Context, missed models.MissedHeartbeat) error
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Threshold time.Duration
	Notifier  Notifier
	Store     Store
	Log       *zerolog.Logger
}

// Monitor keeps the client registry and reports clients whose heartbeats stop.
// It implements socket.Handler.
type Monitor struct {
	threshold time.Duration
	notifier  Notifier
	store     Store
	log       *zerolog.Logger
	host      string
	now       func() time.Time

	mu      sync.RWMutex
	clients map[int32]*models.Client
}

var _ socket.Handler = (*Monitor)(nil)

// NewMonitor creates a Monitor. Without a notifier missed heartbeats are only
// flagged in the registry and recorded in the store.
func NewMonitor(opts MonitorOptions) *Monitor {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Log == nil {
		nop := zerolog.Nop()
		opts.Log = &nop
	}

	host, _ := os.Hostname()

	return &Monitor{
		threshold: opts.Threshold,
		notifier:  opts.Notifier,
		store:     opts.Store,
		log:       opts.Log,
		host:      host,
		now:       time.Now,
		clients:   make(map[int32]*models.Client),
	}
}

// HandleRequest decodes a client datagram and applies it to the registry.
func (m *Monitor) HandleRequest(ctx context.Context, req socket.Request) error {
	p, err := packet.Decode(req.Data)
	if err != nil {
		return fmt.Errorf("failed to decode packet: %w", err)
	}

	switch p.Type {
	case packet.Heartbeat:
		m.Heartbeat(ctx, p.PID, p.Time(), p.Identifier)
	case packet.Register:
		m.Register(ctx, p.PID, p.Time(), p.Identifier)
	case packet.Deregister:
		return m.Deregister(ctx, p.PID, p.Time())
	}
	return nil
}

// Heartbeat records a heartbeat, adding the client if it was never registered.
func (m *Monitor) Heartbeat(ctx context.Context, pid int32, ts time.Time, processName string) {
	m.mu.Lock()
	client, ok := m.clients[pid]
	if ok {
		client.LastHeartbeat = ts
		client.Missed = false
	} else {
		client = &models.Client{PID: pid, ProcessName: processName, LastHeartbeat: ts, RegisteredAt: ts}
		m.clients[pid] = client
	}
	snapshot := *client
	m.mu.Unlock()

	m.log.Info().Int32("pid", pid).Time("timestamp", ts).Str("process_name", snapshot.ProcessName).Msg("Heartbeat")

	if m.store == nil {
		return
	}
	if ok {
		m.persist(m.store.TouchClient(ctx, pid, ts), "touch client")
	} else {
		m.persist(m.store.UpsertClient(ctx, snapshot), "upsert client")
	}
}

// Register forcibly (re)registers a client, replacing any existing entry.
func (m *Monitor) Register(ctx context.Context, pid int32, ts time.Time, processName string) {
	client := models.Client{PID: pid, ProcessName: processName, LastHeartbeat: ts, RegisteredAt: ts}

	m.mu.Lock()
	m.clients[pid] = &client
	m.mu.Unlock()

	m.log.Info().Int32("pid", pid).Time("timestamp", ts).Str("process_name", processName).Msg("Registered")

	if m.store != nil {
		m.persist(m.store.UpsertClient(ctx, client), "upsert client")
	}
}

// Deregister removes a client from the registry.
func (m *Monitor) Deregister(ctx context.Context, pid int32, ts time.Time) error {
	m.mu.Lock()
	client, ok := m.clients[pid]
	if ok {
		delete(m.clients, pid)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: pid %d", ErrUnknownClient, pid)
	}

	m.log.Info().Int32("pid", pid).Time("timestamp", ts).Str("process_name", client.ProcessName).Msg("Deregistered")

	if m.store != nil {
		m.persist(m.store.DeleteClient(ctx, pid), "delete client")
	}
	return nil
}

// RequestHook reports every client whose last heartbeat is older than the
// threshold. A client is reported once until it beats again; a failed
// notification is retried on the next sweep.
func (m *Monitor) RequestHook(ctx context.Context) {
	now := m.now()
	cutoff := now.Add(-m.threshold)

	var missed []models.MissedHeartbeat

	m.mu.Lock()
	for pid, client := range m.clients {
		if client.Missed || !client.LastHeartbeat.Before(cutoff) {
			continue
		}
		client.Missed = true
		missed = append(missed, models.MissedHeartbeat{
			PID:           pid,
			ProcessName:   client.ProcessName,
			LastHeartbeat: client.LastHeartbeat,
			DetectedAt:    now,
			Host:          m.host,
		})
	}
	m.mu.Unlock()

	// Sinks may be slow, notify outside the lock.
	for _, mh := range missed {
		m.log.Debug().Int32("pid", mh.PID).Time("last_heartbeat", mh.LastHeartbeat).Msg("missed heartbeat detected")

		if m.notifier != nil {
			if err := m.notifier.Notify(ctx, mh); err != nil {
				m.log.Error().Err(err).Int32("pid", mh.PID).Msg("failed to notify missed heartbeat")
				m.rearm(mh)
				continue
			}
		}
		if m.store != nil {
			m.persist(m.store.InsertMissedHeartbeat(ctx, mh), "record missed heartbeat")
		}
	}
}

// rearm clears the missed flag so the next sweep reports the client again,
// unless it beat or re-registered in the meantime.
func (m *Monitor) rearm(mh models.MissedHeartbeat) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[mh.PID]
	if ok && client.Missed && client.LastHeartbeat.Equal(mh.LastHeartbeat) {
		client.Missed = false
	}
}

// Clients returns a snapshot of the registry ordered by pid.
func (m *Monitor) Clients() []models.Client {
	m.mu.RLock()
	clients := make([]models.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, *c)
	}
	m.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].PID < clients[j].PID })
	return clients
}

// Client returns a snapshot of a single client.
func (m *Monitor) Client(pid int32) (models.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[pid]
	if !ok {
		return models.Client{}, false
	}
	return *c, true
}

// Restore seeds the registry, typically from the database on startup.
func (m *Monitor) Restore(clients []models.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range clients {
		c := c
		m.clients[c.PID] = &c
	}
}

func (m *Monitor) persist(err error, op string) {
	if err != nil {
		m.log.Error().Err(err).Msgf("failed to %s", op)
	}
}
