package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura/underwriting/internal/events"
)

type emitted struct {
	typ  EventType
	org  string
	uw   string
	data map[string]interface{}
}

type captureEmitter struct{ ch chan emitted }

func newCaptureEmitter() *captureEmitter { return &captureEmitter{ch: make(chan emitted, 8)} }

func (e *captureEmitter) Emit(typ EventType, org, uw string, data map[string]interface{}) {
	e.ch <- emitted{typ: typ, org: org, uw: uw, data: data}
}
func (e *captureEmitter) Shutdown() {}

func (e *captureEmitter) next(t *testing.T) emitted {
	t.Helper()
	select {
	case rec := <-e.ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("no webhook emission")
		return emitted{}
	}
}

// ============================================================================
// Bus-to-webhook translation
// ============================================================================

func TestTranslate(t *testing.T) {
	cases := []struct {
		name    string
		event   *events.CloudEvent
		want    EventType
		forward bool
	}{
		{
			name:    "successful workflow",
			event:   &events.CloudEvent{Type: events.TypeWorkflowCompleted, Data: map[string]interface{}{"success": true}},
			want:    EventWorkflowCompleted,
			forward: true,
		},
		{
			name:    "failed workflow",
			event:   &events.CloudEvent{Type: events.TypeWorkflowCompleted, Data: map[string]interface{}{"success": false}},
			want:    EventWorkflowFailed,
			forward: true,
		},
		{
			name:    "factor change",
			event:   &events.CloudEvent{Type: events.TypeFactorUpdated},
			want:    EventFactorUpdated,
			forward: true,
		},
		{
			name:    "execution failure is matched by suffix",
			event:   &events.CloudEvent{Type: "test_application_processor.execution.failed"},
			want:    EventExecutionFailed,
			forward: true,
		},
		{
			name:    "lifecycle noise is dropped",
			event:   &events.CloudEvent{Type: "test_application_processor.execution.started"},
			forward: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := translate(tc.event)
			assert.Equal(t, tc.forward, ok)
			if tc.forward {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestBridge_ForwardsActionableEvents(t *testing.T) {
	bus := events.NewEventBus()
	emitter := newCaptureEmitter()

	b := NewBridge(bus, emitter)
	go b.Run()
	defer b.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("bridge never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(events.TypeWorkflowCompleted, "/engine/orchestrator", "uw-1",
		map[string]interface{}{"success": true, "workflow": "Workflow 1"})
	bus.Emit("test_application_processor.execution.started", "/engine/executor", "uw-1", nil)
	bus.Emit("test_application_processor.execution.failed", "/engine/executor", "",
		map[string]interface{}{"underwriting_id": "uw-9", "code": "api_error"})

	first := emitter.next(t)
	assert.Equal(t, EventWorkflowCompleted, first.typ)
	assert.Equal(t, "uw-1", first.uw)
	assert.Equal(t, "Workflow 1", first.data["workflow"])

	second := emitter.next(t)
	assert.Equal(t, EventExecutionFailed, second.typ)
	assert.Equal(t, "uw-9", second.uw, "underwriting id falls back to the event data")

	select {
	case extra := <-emitter.ch:
		t.Fatalf("lifecycle noise was forwarded: %v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridge_StopEndsRun(t *testing.T) {
	bus := events.NewEventBus()
	b := NewBridge(bus, newCaptureEmitter())

	done := make(chan struct{})
	go func() {
		b.Run()
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("bridge never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Stop")
	}
	require.Zero(t, bus.SubscriberCount(), "bridge unsubscribes on exit")
}
