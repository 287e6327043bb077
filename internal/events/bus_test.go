package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_TypedSubscription(t *testing.T) {
	bus := NewEventBus()
	completed := bus.Subscribe(TypeWorkflowCompleted)
	factors := bus.Subscribe(TypeFactorUpdated)

	bus.Emit(TypeWorkflowCompleted, "/engine/orchestrator", "uw-1",
		map[string]interface{}{"workflow": "Workflow 1"})

	ev := <-completed
	assert.Equal(t, TypeWorkflowCompleted, ev.Type)
	assert.Equal(t, "uw-1", ev.Subject)
	assert.Equal(t, "Workflow 1", ev.Data["workflow"])

	select {
	case stray := <-factors:
		t.Fatalf("factor subscriber got %s", stray.Type)
	default:
	}
}

func TestEventBus_SubscribeAllTypes(t *testing.T) {
	bus := NewEventBus()
	all := bus.Subscribe()

	bus.Emit(TypeWorkflowCompleted, "/engine/orchestrator", "uw-1", nil)
	bus.Emit("test_application_processor.execution.started", "/engine/pipeline", "e-1", nil)

	assert.Equal(t, TypeWorkflowCompleted, (<-all).Type)
	assert.Equal(t, "test_application_processor.execution.started", (<-all).Type)
}

func TestEventBus_PublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewEventBus()
	bus.bufferSize = 1
	slow := bus.Subscribe(TypeFactorUpdated)

	// Second publish overflows the buffer and must be dropped, not block.
	bus.Emit(TypeFactorUpdated, "/engine/orchestrator", "uw-1", map[string]interface{}{"n": 1})
	bus.Emit(TypeFactorUpdated, "/engine/orchestrator", "uw-1", map[string]interface{}{"n": 2})

	first := <-slow
	assert.Equal(t, 1, first.Data["n"])
	select {
	case second := <-slow:
		t.Fatalf("overflow event %v should have been dropped", second.Data)
	default:
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TypeWorkflowCompleted)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Zero(t, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open, "unsubscribing closes the channel")

	// Publishing after unsubscribe reaches nobody and panics nowhere.
	bus.Emit(TypeWorkflowCompleted, "/engine/orchestrator", "uw-1", nil)
}

func TestEventBus_SubscriberCount(t *testing.T) {
	bus := NewEventBus()
	assert.Zero(t, bus.SubscriberCount())

	typed := bus.Subscribe(TypeWorkflowCompleted, TypeFactorUpdated)
	all := bus.Subscribe()
	assert.Equal(t, 3, bus.SubscriberCount(), "one entry per subscribed type plus the catch-all")

	bus.Unsubscribe(typed)
	bus.Unsubscribe(all)
	assert.Zero(t, bus.SubscriberCount())
}

func TestNewCloudEvent_Envelope(t *testing.T) {
	ev := NewCloudEvent(TypeWorkflowCompleted, "/engine/orchestrator", "uw-1",
		map[string]interface{}{"success": true})

	assert.Equal(t, "1.0", ev.SpecVersion)
	assert.Equal(t, "/engine/orchestrator", ev.Source)
	assert.False(t, ev.Time.IsZero())
	_, err := uuid.Parse(ev.ID)
	assert.NoError(t, err)

	raw, err := ev.JSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "1.0", decoded["specversion"])
	assert.Equal(t, TypeWorkflowCompleted, decoded["type"])
	assert.Equal(t, "uw-1", decoded["subject"])
}
