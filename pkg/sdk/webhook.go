package sdk

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// Delivery headers set by the engine on every webhook POST.
const (
	HeaderEventType       = "X-Aura-Event-Type"
	HeaderEventID         = "X-Aura-Event-ID"
	HeaderDeliveryAttempt = "X-Aura-Delivery-Attempt"
	HeaderSignature       = "X-Aura-Signature"
)

// VerifySignature checks a webhook delivery against the subscription
// secret. The signature header carries "sha256=" followed by the hex
// HMAC-SHA256 of the raw body. Comparison is constant time.
//
//	body, _ := io.ReadAll(r.Body)
//	if !sdk.VerifySignature(body, secret, r.Header.Get(sdk.HeaderSignature)) {
//	    http.Error(w, "bad signature", http.StatusUnauthorized)
//	    return
//	}
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")

	raw, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(raw, mac.Sum(nil))
}

// ParseEvent decodes a webhook delivery body.
func ParseEvent(payload []byte) (*WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// EventHandler returns an http.Handler for receiving webhook
// deliveries: it verifies the signature when a secret is set, decodes
// the event and hands it to fn. Invalid signatures get 401, malformed
// bodies 400, everything else 200 so the engine does not retry.
//
//	mux := http.NewServeMux()
//	mux.Handle("/hooks/underwriting", sdk.EventHandler(secret, func(evt *sdk.WebhookEvent) {
//	    if evt.Type == sdk.EventWorkflowCompleted {
//	        refreshCase(evt.UnderwritingID)
//	    }
//	}))
func EventHandler(secret string, fn func(evt *WebhookEvent)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}

		if secret != "" && !VerifySignature(body, secret, r.Header.Get(HeaderSignature)) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		evt, err := ParseEvent(body)
		if err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		fn(evt)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "received"})
	})
}
