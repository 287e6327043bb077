package sdk

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ============================================================================
// Signature verification
// ============================================================================

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"workflow.completed"}`)

	assert.True(t, VerifySignature(payload, "s3cret", sign(payload, "s3cret")))
	assert.False(t, VerifySignature(payload, "other", sign(payload, "s3cret")), "wrong secret")
	assert.False(t, VerifySignature([]byte(`{}`), "s3cret", sign(payload, "s3cret")), "tampered body")
	assert.False(t, VerifySignature(payload, "s3cret", "sha256=not-hex"))
	assert.False(t, VerifySignature(payload, "s3cret", ""))
}

// ============================================================================
// Receiving deliveries
// ============================================================================

func delivery(t *testing.T) []byte {
	t.Helper()

	body, err := json.Marshal(WebhookEvent{
		ID:             "evt-1",
		Type:           EventWorkflowCompleted,
		Source:         "underwriting-engine",
		Timestamp:      time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC),
		OrganizationID: "org-acme",
		UnderwritingID: "uw-1",
		Data:           map[string]interface{}{"workflow": "Workflow 1", "success": true},
	})
	require.NoError(t, err)
	return body
}

func TestEventHandler_DeliversVerifiedEvents(t *testing.T) {
	body := delivery(t)

	var got *WebhookEvent
	h := EventHandler("s3cret", func(evt *WebhookEvent) { got = evt })

	req := httptest.NewRequest(http.MethodPost, "/hooks", bytes.NewReader(body))
	req.Header.Set(HeaderSignature, sign(body, "s3cret"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, EventWorkflowCompleted, got.Type)
	assert.Equal(t, "uw-1", got.UnderwritingID)
	assert.Equal(t, "Workflow 1", got.Data["workflow"])
}

func TestEventHandler_RejectsBadSignature(t *testing.T) {
	body := delivery(t)

	called := false
	h := EventHandler("s3cret", func(*WebhookEvent) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/hooks", bytes.NewReader(body))
	req.Header.Set(HeaderSignature, sign(body, "wrong"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestEventHandler_RejectsMalformedBody(t *testing.T) {
	h := EventHandler("", func(*WebhookEvent) {})

	req := httptest.NewRequest(http.MethodPost, "/hooks", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHandler_AcceptsUnsignedWhenNoSecret(t *testing.T) {
	body := delivery(t)

	var got *WebhookEvent
	h := EventHandler("", func(evt *WebhookEvent) { got = evt })

	req := httptest.NewRequest(http.MethodPost, "/hooks", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "evt-1", got.ID)
}
