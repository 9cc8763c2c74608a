package events

import (
	"context"
	"fmt"

	"github.com/apache/pulsar-client-go/pulsar"
)

// MaxDeliveries is how often a message is redelivered before it is moved to the dead-letter topic.
const MaxDeliveries = 3

// EventConsumer reads missed heartbeat events published by EventPublisher.
type EventConsumer struct {
	client   pulsar.Client
	consumer pulsar.Consumer
}

// DeadLetterTopic is where events end up once MaxDeliveries is exhausted.
func DeadLetterTopic(topic string) string {
	return topic + "-dlq"
}

// NewEventConsumer joins a shared subscription on topic, so several alert
// workers can split the stream.
func NewEventConsumer(pulsarURL, topic, subscription string) (*EventConsumer, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{URL: pulsarURL})
	if err != nil {
		return nil, fmt.Errorf("could not create Pulsar client: %w", err)
	}

	consumer, err := client.Subscribe(pulsar.ConsumerOptions{
		Topic:            topic,
		SubscriptionName: subscription,
		Type:             pulsar.Shared,
		DLQ: &pulsar.DLQPolicy{
			MaxDeliveries:   MaxDeliveries,
			DeadLetterTopic: DeadLetterTopic(topic),
		},
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("could not subscribe to %s: %w", topic, err)
	}

	return &EventConsumer{client: client, consumer: consumer}, nil
}

// ReceiveMessage blocks until an event arrives or ctx is done.
func (c *EventConsumer) ReceiveMessage(ctx context.Context) (pulsar.Message, error) {
	msg, err := c.consumer.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to receive event: %w", err)
	}
	return msg, nil
}

// Ack marks an event as handled so it is not redelivered.
func (c *EventConsumer) Ack(msg pulsar.Message) error {
	return c.consumer.Ack(msg)
}

// Nack schedules the event for redelivery, counting towards MaxDeliveries.
func (c *EventConsumer) Nack(msg pulsar.Message) {
	c.consumer.Nack(msg)
}

// Close leaves the subscription and releases the client.
func (c *EventConsumer) Close() {
	c.consumer.Close()
	c.client.Close()
}
