package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aura/underwriting/internal/webhooks"
)

// POST /api/v1/webhooks
func (s *Server) registerWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hooks == nil {
		http.Error(w, "webhooks disabled", http.StatusNotFound)
		return
	}

	var req struct {
		URL            string   `json:"url"`
		Events         []string `json:"events"`
		Secret         string   `json:"secret,omitempty"`
		OrganizationID string   `json:"organization_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid Payload", http.StatusBadRequest)
		return
	}

	eventTypes := make([]webhooks.EventType, len(req.Events))
	for i, e := range req.Events {
		eventTypes[i] = webhooks.EventType(e)
	}

	sub := &webhooks.WebhookSubscription{
		URL:            req.URL,
		Events:         eventTypes,
		Secret:         req.Secret,
		OrganizationID: req.OrganizationID,
	}
	if err := s.deps.Hooks.Register(sub); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sub)
}

// GET /api/v1/webhooks
func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hooks == nil {
		http.Error(w, "webhooks disabled", http.StatusNotFound)
		return
	}

	hooks := s.deps.Hooks.ListAll()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":    len(hooks),
		"webhooks": hooks,
	})
}

// DELETE /api/v1/webhooks/{id}
func (s *Server) unregisterWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hooks == nil {
		http.Error(w, "webhooks disabled", http.StatusNotFound)
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.deps.Hooks.Unregister(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "unregistered", "id": id})
}
