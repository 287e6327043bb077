package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	header http.Header
	body   []byte
}

// receiver is an httptest endpoint that records every delivery.
func receiver(t *testing.T, status int) (*httptest.Server, chan delivery) {
	t.Helper()
	ch := make(chan delivery, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- delivery{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func awaitDelivery(t *testing.T, ch chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was never delivered")
		return delivery{}
	}
}

func TestDispatcher_DeliversSignedEvent(t *testing.T) {
	srv, ch := receiver(t, http.StatusOK)

	reg := NewRegistry()
	s := &WebhookSubscription{
		URL:    srv.URL,
		Events: []EventType{EventWorkflowCompleted},
		Secret: "s3cret",
	}
	require.NoError(t, reg.Register(s))

	d := NewDispatcher(reg, 1)
	defer d.Shutdown()

	d.Emit(EventWorkflowCompleted, "org-1", "uw-1", map[string]interface{}{"workflow": "Workflow 1"})
	got := awaitDelivery(t, ch)

	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "workflow.completed", got.header.Get("X-Aura-Event-Type"))
	assert.NotEmpty(t, got.header.Get("X-Aura-Event-ID"))
	assert.Equal(t, "1", got.header.Get("X-Aura-Delivery-Attempt"))

	sig := got.header.Get("X-Aura-Signature")
	require.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Equal(t, SignPayload(got.body, "s3cret"), strings.TrimPrefix(sig, "sha256="),
		"receivers can verify the body with the shared secret")

	var evt WebhookEvent
	require.NoError(t, json.Unmarshal(got.body, &evt))
	assert.Equal(t, EventWorkflowCompleted, evt.Type)
	assert.Equal(t, "org-1", evt.OrganizationID)
	assert.Equal(t, "uw-1", evt.UnderwritingID)
	assert.Equal(t, "Workflow 1", evt.Data["workflow"])
}

func TestDispatcher_NoSignatureWithoutSecret(t *testing.T) {
	srv, ch := receiver(t, http.StatusOK)

	reg := NewRegistry()
	require.NoError(t, reg.Register(sub(srv.URL, EventFactorUpdated)))

	d := NewDispatcher(reg, 1)
	defer d.Shutdown()

	d.Emit(EventFactorUpdated, "org-1", "uw-1", nil)
	got := awaitDelivery(t, ch)

	assert.Empty(t, got.header.Get("X-Aura-Signature"))
}

func TestDispatcher_ScopesDeliveryToOrganization(t *testing.T) {
	srv, ch := receiver(t, http.StatusOK)

	reg := NewRegistry()
	s := sub(srv.URL, EventWorkflowCompleted)
	s.OrganizationID = "org-1"
	require.NoError(t, reg.Register(s))

	d := NewDispatcher(reg, 1)
	defer d.Shutdown()

	// Another tenant's event never reaches this hook.
	d.Emit(EventWorkflowCompleted, "org-2", "uw-other", nil)
	d.Emit(EventWorkflowCompleted, "org-1", "uw-mine", nil)

	got := awaitDelivery(t, ch)
	var evt WebhookEvent
	require.NoError(t, json.Unmarshal(got.body, &evt))
	assert.Equal(t, "uw-mine", evt.UnderwritingID)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra delivery: %s", extra.body)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDispatcher_ErrorResponseCountsAsFailure(t *testing.T) {
	srv, ch := receiver(t, http.StatusInternalServerError)

	reg := NewRegistry()
	s := sub(srv.URL, EventWorkflowCompleted)
	require.NoError(t, reg.Register(s))

	d := NewDispatcher(reg, 1)
	defer d.Shutdown()

	d.Emit(EventWorkflowCompleted, "org-1", "uw-1", nil)
	awaitDelivery(t, ch)

	deadline := time.Now().Add(2 * time.Second)
	for {
		reg.mu.RLock()
		failures := s.FailCount
		reg.mu.RUnlock()
		if failures == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("failure never recorded, count=%d", failures)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcher_SkipsEventsNobodyWants(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, 1)
	defer d.Shutdown()

	// No subscribers registered; Emit returns without queueing.
	d.Emit(EventExecutionFailed, "org-1", "uw-1", map[string]interface{}{"code": "api_error"})
}
