package notify

import (
	"context"

	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
)

// Publisher sends missed heartbeats onto a message bus.
type Publisher interface {
	Publish(ctx context.Context, event models.MissedHeartbeat) error
}

// EventNotifier forwards missed heartbeats to a Publisher so that other
// services (see the consume command) can act on them.
type EventNotifier struct {
	Publisher Publisher
}

func NewEventNotifier(p Publisher) *EventNotifier {
	return &EventNotifier{Publisher: p}
}

func (n *EventNotifier) Notify(ctx context.Context, missed models.MissedHeartbeat) error {
	return n.Publisher.Publish(ctx, missed)
}
