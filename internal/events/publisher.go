package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/aura/underwriting/internal/circuitbreaker"
)

// TriggerPublisher publishes plain JSON workflow trigger messages to the
// per-workflow topics the orchestrator subscribes to. Publishes are
// synchronous: the caller learns whether the broker accepted the message.
type TriggerPublisher struct {
	client  *pubsub.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *log.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewTriggerPublisher connects to Pub/Sub for the given project.
func NewTriggerPublisher(projectID string) (*TriggerPublisher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	return &TriggerPublisher{
		client:  client,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("trigger-publisher")),
		logger:  log.New(log.Writer(), "[TRIGGER] ", log.LstdFlags),
		topics:  make(map[string]*pubsub.Topic),
	}, nil
}

// Publish marshals payload to JSON and publishes it on topicID, creating
// the topic when it does not exist yet. The call blocks until the broker
// confirms or ctx expires.
func (tp *TriggerPublisher) Publish(ctx context.Context, topicID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal trigger payload: %w", err)
	}

	topic, err := tp.topicFor(ctx, topicID)
	if err != nil {
		return err
	}

	_, err = tp.breaker.Execute(func() (interface{}, error) {
		result := topic.Publish(ctx, &pubsub.Message{Data: data})
		return result.Get(ctx)
	})
	if err != nil {
		tp.logger.Printf("❌ Publish to %s failed: %v", topicID, err)
		return fmt.Errorf("publish %s: %w", topicID, err)
	}

	tp.logger.Printf("📤 Published trigger on %s (%d bytes)", topicID, len(data))
	return nil
}

func (tp *TriggerPublisher) topicFor(ctx context.Context, topicID string) (*pubsub.Topic, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if t, ok := tp.topics[topicID]; ok {
		return t, nil
	}

	topic := tp.client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("topic.Exists %s: %w", topicID, err)
	}
	if !exists {
		topic, err = tp.client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("CreateTopic %s: %w", topicID, err)
		}
		tp.logger.Printf("✅ Created Pub/Sub topic %s", topicID)
	}

	tp.topics[topicID] = topic
	return topic, nil
}

// Close stops all cached topics and the client.
func (tp *TriggerPublisher) Close() error {
	tp.mu.Lock()
	for _, t := range tp.topics {
		t.Stop()
	}
	tp.mu.Unlock()

	return tp.client.Close()
}
