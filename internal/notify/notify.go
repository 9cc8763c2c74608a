// Package notify provides the sinks that missed heartbeats are reported to.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Notifier reports a missed heartbeat.
type Notifier interface {
	Notify(ctx context.Context, missed models.MissedHeartbeat) error
}

// LogNotifier writes missed heartbeats to the log.
type LogNotifier struct {
	Log *zerolog.Logger
}

func NewLogNotifier(log *zerolog.Logger) *LogNotifier {
	return &LogNotifier{Log: log}
}

func (n *LogNotifier) Notify(_ context.Context, missed models.MissedHeartbeat) error {
	n.Log.Warn().
		Int32("pid", missed.PID).
		Time("timestamp", missed.DetectedAt).
		Time("last_heartbeat", missed.LastHeartbeat).
		Str("process_name", missed.ProcessName).
		Msg("Missed Heartbeat")
	return nil
}

// Multi fans a notification out to several notifiers concurrently. Every
// notifier runs even if another fails; the errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, missed models.MissedHeartbeat) error {
	errs := make([]error, len(m))

	var g errgroup.Group
	for i, n := range m {
		g.Go(func() error {
			if err := n.Notify(ctx, missed); err != nil {
				errs[i] = fmt.Errorf("notifier %d: %w", i, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Subject is the one-line summary used by notifiers with a subject field.
func Subject(missed models.MissedHeartbeat) string {
	return fmt.Sprintf("Missed Heartbeat | PID: %d | Identifier: %s", missed.PID, missed.ProcessName)
}

// Body is the plain-text description of a missed heartbeat.
func Body(missed models.MissedHeartbeat) string {
	host := missed.Host
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf(
		"Process %q (pid %d) on host %s has not sent a heartbeat since %s.\nDetected at %s.\n",
		missed.ProcessName, missed.PID, host,
		missed.LastHeartbeat.UTC().Format(TimeFormat),
		missed.DetectedAt.UTC().Format(TimeFormat),
	)
}

const TimeFormat string = "2006-01-02T15:04:05Z"
