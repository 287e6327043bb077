package api

import (
	"encoding/json"
	"net/http"

	"github.com/aura/underwriting/internal/engine"
	"github.com/aura/underwriting/internal/events"
)

// The trigger endpoints publish to the broker and return once the
// broker confirmed. Deep payload validation happens in the subscriber;
// here only the routing key is checked so typos fail fast.

// POST /api/v1/trigger/workflow1
func (s *Server) triggerWorkflow1(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UnderwritingID string `json:"underwriting_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid Payload", http.StatusBadRequest)
		return
	}
	if req.UnderwritingID == "" {
		http.Error(w, "underwriting_id is required", http.StatusBadRequest)
		return
	}

	s.publish(w, r, events.TopicUnderwritingUpdated, req)
}

// POST /api/v1/trigger/workflow2
func (s *Server) triggerWorkflow2(w http.ResponseWriter, r *http.Request) {
	var req engine.ManualExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid Payload", http.StatusBadRequest)
		return
	}
	if req.UnderwritingProcessorID == "" {
		http.Error(w, "underwriting_processor_id is required", http.StatusBadRequest)
		return
	}

	s.publish(w, r, events.TopicProcessorExecute, req)
}

// POST /api/v1/trigger/workflow3
func (s *Server) triggerWorkflow3(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UnderwritingProcessorID string `json:"underwriting_processor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid Payload", http.StatusBadRequest)
		return
	}
	if req.UnderwritingProcessorID == "" {
		http.Error(w, "underwriting_processor_id is required", http.StatusBadRequest)
		return
	}

	s.publish(w, r, events.TopicConsolidation, req)
}

// POST /api/v1/trigger/workflow4
func (s *Server) triggerWorkflow4(w http.ResponseWriter, r *http.Request) {
	s.triggerExecutionWorkflow(w, r, events.TopicExecutionActivate)
}

// POST /api/v1/trigger/workflow5
func (s *Server) triggerWorkflow5(w http.ResponseWriter, r *http.Request) {
	s.triggerExecutionWorkflow(w, r, events.TopicExecutionDisable)
}

func (s *Server) triggerExecutionWorkflow(w http.ResponseWriter, r *http.Request, topic string) {
	var req struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid Payload", http.StatusBadRequest)
		return
	}
	if req.ExecutionID == "" {
		http.Error(w, "execution_id is required", http.StatusBadRequest)
		return
	}

	s.publish(w, r, topic, req)
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request, topic string, payload interface{}) {
	if err := s.deps.Trigger.Publish(r.Context(), topic, payload); err != nil {
		s.logger.Printf("❌ trigger publish failed on %s: %v", topic, err)
		http.Error(w, "publish failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "published",
		"topic":  topic,
	})
}
