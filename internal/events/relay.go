package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
)

// Relay feeds a local in-memory bus from the durable engine event topic.
// The API process runs one so its WebSocket stream and webhook bridge
// see events published by the orchestrator process.
type Relay struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	bus    *EventBus
	logger *log.Logger
}

// NewRelay connects to the project and ensures the topic and the relay's
// subscription exist.
func NewRelay(projectID, topicID, subID string, bus *EventBus) (*Relay, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	logger := log.New(log.Writer(), "[RELAY] ", log.LstdFlags)

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists %s: %w", topicID, err)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic %s: %w", topicID, err)
		}
		logger.Printf("✅ Created Pub/Sub topic %s", topicID)
	}

	sub := client.Subscription(subID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("sub.Exists %s: %w", subID, err)
	}
	if !exists {
		sub, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:                 topic,
			AckDeadline:           30 * time.Second,
			EnableMessageOrdering: true,
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateSubscription %s: %w", subID, err)
		}
		logger.Printf("✅ Created subscription %s", subID)
	}

	return &Relay{client: client, sub: sub, bus: bus, logger: logger}, nil
}

// Run receives until ctx is cancelled. Malformed envelopes are acked and
// dropped; the stream carries no redelivery guarantees.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Printf("📡 Relaying engine events (%s)", r.sub.ID())

	err := r.sub.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		var event CloudEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			r.logger.Printf("🗑️  Dropping malformed event: %v", err)
			msg.Ack()
			return
		}
		r.bus.Publish(&event)
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("relay receive: %w", err)
	}
	return nil
}

// Close releases the Pub/Sub client.
func (r *Relay) Close() error {
	return r.client.Close()
}
