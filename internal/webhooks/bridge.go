package webhooks

import (
	"log"
	"strings"

	"github.com/aura/underwriting/internal/events"
)

// Bridge forwards engine events from the in-process bus to the webhook
// emitter. It subscribes to everything and keeps only the outcomes
// external systems can act on: workflow completions, execution failures
// and factor changes.
type Bridge struct {
	bus     *events.EventBus
	emitter WebhookEmitter
	logger  *log.Logger
	done    chan struct{}
}

// NewBridge wires the bus to the emitter. Call Run once from startup.
func NewBridge(bus *events.EventBus, emitter WebhookEmitter) *Bridge {
	return &Bridge{
		bus:     bus,
		emitter: emitter,
		logger:  log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags),
		done:    make(chan struct{}),
	}
}

// Run drains the bus subscription until Stop is called.
func (b *Bridge) Run() {
	sub := b.bus.Subscribe()
	defer b.bus.Unsubscribe(sub)

	for {
		select {
		case <-b.done:
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			b.forward(event)
		}
	}
}

// Stop ends the Run loop. The emitter is shut down by its owner.
func (b *Bridge) Stop() {
	close(b.done)
}

func (b *Bridge) forward(event *events.CloudEvent) {
	hookType, ok := translate(event)
	if !ok {
		return
	}

	underwritingID := event.Subject
	if underwritingID == "" {
		if id, ok := event.Data["underwriting_id"].(string); ok {
			underwritingID = id
		}
	}

	b.emitter.Emit(hookType, event.OrganizationID, underwritingID, event.Data)
}

// translate maps a bus event type to a webhook event type. Execution
// lifecycle types are dynamic ("{processor}.execution.failed"), so the
// suffix decides.
func translate(event *events.CloudEvent) (EventType, bool) {
	switch {
	case event.Type == events.TypeWorkflowCompleted:
		if success, ok := event.Data["success"].(bool); ok && !success {
			return EventWorkflowFailed, true
		}
		return EventWorkflowCompleted, true

	case event.Type == events.TypeFactorUpdated:
		return EventFactorUpdated, true

	case strings.HasSuffix(event.Type, ".execution.failed"):
		return EventExecutionFailed, true
	}
	return "", false
}
