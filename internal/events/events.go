package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/rs/zerolog"
)

// EventPublisher publishes missed heartbeat events to a Pulsar topic.
type EventPublisher struct {
	client   pulsar.Client
	producer pulsar.Producer
	log      *zerolog.Logger
}

// NewEventPublisher initializes the Pulsar client and producer.
func NewEventPublisher(pulsarURL, topic string, log *zerolog.Logger) (*EventPublisher, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL: pulsarURL,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create Pulsar client: %w", err)
	}

	producer, err := client.CreateProducer(pulsar.ProducerOptions{
		Topic: topic,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("could not create Pulsar producer: %w", err)
	}

	log.Info().Str("topic", topic).Msg("Pulsar client and producer initialized successfully")
	return &EventPublisher{client: client, producer: producer, log: log}, nil
}

// Publish sends a missed heartbeat event keyed by the process id.
func (p *EventPublisher) Publish(ctx context.Context, event models.MissedHeartbeat) error {
	msg, err := NewMessage(event)
	if err != nil {
		return err
	}

	if _, err := p.producer.Send(ctx, msg); err != nil {
		return fmt.Errorf("could not send event to Pulsar: %w", err)
	}

	p.log.Debug().Int32("pid", event.PID).Msg("Event sent to Pulsar")
	return nil
}

// Close closes the Pulsar producer and client.
func (p *EventPublisher) Close() {
	p.producer.Close()
	p.client.Close()
	p.log.Info().Msg("Pulsar client and producer closed successfully")
}

// NewMessage serializes an event into a producer message.
func NewMessage(event models.MissedHeartbeat) (*pulsar.ProducerMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("could not serialize event payload: %w", err)
	}

	return &pulsar.ProducerMessage{
		Payload:   payload,
		Key:       fmt.Sprintf("%s/%d", event.Host, event.PID),
		EventTime: event.DetectedAt,
	}, nil
}

// DecodeEvent parses a message payload produced by Publish.
func DecodeEvent(payload []byte) (models.MissedHeartbeat, error) {
	var event models.MissedHeartbeat
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("could not decode event payload: %w", err)
	}
	if event.PID == 0 {
		return event, fmt.Errorf("event payload is missing pid")
	}
	return event, nil
}
