// Package subscriber pulls workflow trigger messages from Pub/Sub and
// dispatches them to the orchestrator, serialized per underwriting.
package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/engine"
	"github.com/aura/underwriting/internal/events"
	"github.com/aura/underwriting/internal/monitoring"
)

// IdempotencyGuard suppresses duplicate broker deliveries. A nil guard
// or one backed by an unavailable store must degrade to "not seen".
type IdempotencyGuard interface {
	Seen(ctx context.Context, messageID string) bool
	MarkDone(ctx context.Context, messageID string)
}

// triggerTopics lists every topic the orchestrator consumes.
var triggerTopics = []string{
	events.TopicUnderwritingUpdated,
	events.TopicDocumentAnalyzed,
	events.TopicProcessorExecute,
	events.TopicConsolidation,
	events.TopicExecutionActivate,
	events.TopicExecutionDisable,
}

// Subscriber owns one Receive loop per trigger topic.
type Subscriber struct {
	client       *pubsub.Client
	orchestrator *engine.Orchestrator
	scheduler    *engine.Scheduler
	processors   engine.ProcessorStore
	executions   engine.ExecutionStore
	guard        IdempotencyGuard
	metrics      *monitoring.Metrics
	validate     *validator.Validate
	cfg          config.PubSubConfig
	logger       *log.Logger
}

// New connects to Pub/Sub and prepares the subscriber. Pass a nil guard
// to run without delivery deduplication.
func New(
	cfg config.PubSubConfig,
	orchestrator *engine.Orchestrator,
	scheduler *engine.Scheduler,
	processors engine.ProcessorStore,
	executions engine.ExecutionStore,
	guard IdempotencyGuard,
	metrics *monitoring.Metrics,
) (*Subscriber, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	return &Subscriber{
		client:       client,
		orchestrator: orchestrator,
		scheduler:    scheduler,
		processors:   processors,
		executions:   executions,
		guard:        guard,
		metrics:      metrics,
		validate:     validator.New(),
		cfg:          cfg,
		logger:       log.New(log.Writer(), "[SUBSCRIBER] ", log.LstdFlags),
	}, nil
}

// Run ensures every subscription exists and blocks receiving messages
// until ctx is cancelled or a receive loop fails hard.
func (s *Subscriber) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, topicID := range triggerTopics {
		sub, err := s.ensureSubscription(gctx, topicID)
		if err != nil {
			return err
		}
		if s.cfg.MaxOutstanding > 0 {
			sub.ReceiveSettings.MaxOutstandingMessages = s.cfg.MaxOutstanding
		}

		topicID := topicID
		g.Go(func() error {
			s.logger.Printf("📡 Listening on %s (%s)", topicID, sub.ID())
			if err := sub.Receive(gctx, s.handler(topicID)); err != nil && gctx.Err() == nil {
				return fmt.Errorf("receive %s: %w", topicID, err)
			}
			return nil
		})
	}

	s.logger.Printf("✅ Subscriber running with %d topics", len(triggerTopics))
	return g.Wait()
}

// Close releases the Pub/Sub client.
func (s *Subscriber) Close() error {
	return s.client.Close()
}

// ensureSubscription creates the topic and its orchestrator subscription
// when they do not exist yet.
func (s *Subscriber) ensureSubscription(ctx context.Context, topicID string) (*pubsub.Subscription, error) {
	topic := s.client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("topic.Exists %s: %w", topicID, err)
	}
	if !exists {
		if topic, err = s.client.CreateTopic(ctx, topicID); err != nil {
			return nil, fmt.Errorf("CreateTopic %s: %w", topicID, err)
		}
		s.logger.Printf("✅ Created Pub/Sub topic %s", topicID)
	}

	subID := fmt.Sprintf("%s-%s", topicID, s.cfg.SubscriptionSuffix)
	sub := s.client.Subscription(subID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("sub.Exists %s: %w", subID, err)
	}
	if !exists {
		sub, err = s.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: time.Duration(s.cfg.AckDeadlineSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("CreateSubscription %s: %w", subID, err)
		}
		s.logger.Printf("✅ Created subscription %s (ack deadline %ds)", subID, s.cfg.AckDeadlineSeconds)
	}

	return sub, nil
}

// handler builds the per-topic message callback. The client library
// extends the ack deadline while the workflow runs, so ack/nack always
// reflects the workflow outcome.
func (s *Subscriber) handler(topicID string) func(context.Context, *pubsub.Message) {
	return func(ctx context.Context, msg *pubsub.Message) {
		if s.guard != nil && s.guard.Seen(ctx, msg.ID) {
			s.logger.Printf("↩️  Duplicate delivery %s on %s, acking", msg.ID, topicID)
			msg.Ack()
			s.metrics.RecordBrokerMessage(topicID, "duplicate")
			return
		}

		sum, err := s.dispatch(ctx, topicID, msg.Data)

		switch {
		case err != nil && IsTransient(err):
			s.logger.Printf("🔁 Transient failure on %s: %v (nack)", topicID, err)
			msg.Nack()
			s.metrics.RecordBrokerMessage(topicID, "nack")

		case err != nil:
			s.logger.Printf("🗑️  Dropping message on %s: %v (ack)", topicID, err)
			msg.Ack()
			s.metrics.RecordBrokerMessage(topicID, "dropped")

		case sum != nil && !sum.Success && IsTransientText(sum.Error):
			s.logger.Printf("🔁 %s failed transiently: %s (nack)", sum.Workflow, sum.Error)
			msg.Nack()
			s.metrics.RecordBrokerMessage(topicID, "nack")

		case sum != nil && !sum.Success:
			s.logger.Printf("🗑️  %s failed permanently: %s (ack)", sum.Workflow, sum.Error)
			msg.Ack()
			s.metrics.RecordBrokerMessage(topicID, "dropped")

		default:
			msg.Ack()
			if s.guard != nil {
				s.guard.MarkDone(ctx, msg.ID)
			}
			s.metrics.RecordBrokerMessage(topicID, "ack")
		}
	}
}

// Event payloads. All ids are UUID strings.
type underwritingEvent struct {
	UnderwritingID string `json:"underwriting_id" validate:"required,uuid4"`
}

type consolidationEvent struct {
	UnderwritingProcessorID string `json:"underwriting_processor_id" validate:"required,uuid4"`
}

type executionEvent struct {
	ExecutionID string `json:"execution_id" validate:"required,uuid4"`
}

// dispatch decodes the payload for its topic and runs the workflow under
// the per-underwriting lock. Decode and validation failures are returned
// as errors (never transient); workflow outcomes live in the summary.
func (s *Subscriber) dispatch(ctx context.Context, topicID string, data []byte) (*engine.WorkflowSummary, error) {
	var sum *engine.WorkflowSummary

	switch topicID {
	case events.TopicUnderwritingUpdated, events.TopicDocumentAnalyzed:
		var ev underwritingEvent
		if err := s.decode(data, &ev); err != nil {
			return nil, err
		}
		err := s.scheduler.Do(ctx, ev.UnderwritingID, func(ctx context.Context) error {
			sum = s.orchestrator.AutoExecute(ctx, ev.UnderwritingID)
			return nil
		})
		return sum, err

	case events.TopicProcessorExecute:
		var req engine.ManualExecuteRequest
		if err := s.decode(data, &req); err != nil {
			return nil, err
		}
		key := s.keyForProcessor(ctx, req.UnderwritingProcessorID)
		err := s.scheduler.Do(ctx, key, func(ctx context.Context) error {
			sum = s.orchestrator.ManualExecute(ctx, req)
			return nil
		})
		return sum, err

	case events.TopicConsolidation:
		var ev consolidationEvent
		if err := s.decode(data, &ev); err != nil {
			return nil, err
		}
		key := s.keyForProcessor(ctx, ev.UnderwritingProcessorID)
		err := s.scheduler.Do(ctx, key, func(ctx context.Context) error {
			sum = s.orchestrator.ConsolidateOnly(ctx, ev.UnderwritingProcessorID)
			return nil
		})
		return sum, err

	case events.TopicExecutionActivate:
		var ev executionEvent
		if err := s.decode(data, &ev); err != nil {
			return nil, err
		}
		key := s.keyForExecution(ctx, ev.ExecutionID)
		err := s.scheduler.Do(ctx, key, func(ctx context.Context) error {
			sum = s.orchestrator.ActivateExecution(ctx, ev.ExecutionID)
			return nil
		})
		return sum, err

	case events.TopicExecutionDisable:
		var ev executionEvent
		if err := s.decode(data, &ev); err != nil {
			return nil, err
		}
		key := s.keyForExecution(ctx, ev.ExecutionID)
		err := s.scheduler.Do(ctx, key, func(ctx context.Context) error {
			sum = s.orchestrator.DisableExecution(ctx, ev.ExecutionID)
			return nil
		})
		return sum, err
	}

	return nil, fmt.Errorf("no handler for topic %s", topicID)
}

func (s *Subscriber) decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// keyForProcessor resolves the owning underwriting for serialization.
// The mapping is immutable, so resolving outside the lock is safe. When
// the row is unknown the processor id itself keys the dispatch; the
// workflow then reports the miss.
func (s *Subscriber) keyForProcessor(ctx context.Context, upID string) string {
	up, err := s.processors.GetByID(ctx, upID)
	if err != nil || up == nil {
		return upID
	}
	return up.UnderwritingID
}

func (s *Subscriber) keyForExecution(ctx context.Context, executionID string) string {
	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil || execution == nil {
		return executionID
	}
	return execution.UnderwritingID
}
