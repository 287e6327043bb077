package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// GET /api/v1/underwritings/{id}
func (s *Server) getUnderwriting(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if s.deps.Cache != nil {
		if uw, ok := s.deps.Cache.GetSnapshot(r.Context(), id); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			json.NewEncoder(w).Encode(uw)
			return
		}
	}

	uw, err := s.deps.Underwritings.GetSnapshot(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if uw == nil {
		http.Error(w, "Underwriting not found", http.StatusNotFound)
		return
	}

	if s.deps.Cache != nil {
		s.deps.Cache.SetSnapshot(r.Context(), id, uw)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(uw)
}

// GET /api/v1/underwritings/{id}/factors
func (s *Server) listFactors(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	factors, err := s.deps.Factors.ListActive(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"underwriting_id": id,
		"count":           len(factors),
		"factors":         factors,
	})
}

// GET /api/v1/underwritings/{id}/workflows
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entries, err := s.deps.Workflows.ListByUnderwriting(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"underwriting_id": id,
		"count":           len(entries),
		"workflows":       entries,
	})
}

// GET /api/v1/underwritings/{id}/executions
func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	executions, err := s.deps.Executions.ListByUnderwriting(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"underwriting_id": id,
		"count":           len(executions),
		"executions":      executions,
	})
}

// GET /api/v1/underwritings/{id}/processors
func (s *Server) listProcessors(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	processors, err := s.deps.Processors.ListByUnderwriting(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"underwriting_id": id,
		"count":           len(processors),
		"processors":      processors,
	})
}

// GET /api/v1/underwritings/{id}/archive
func (s *Server) getArchive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if s.deps.Archive == nil {
		http.Error(w, "snapshot archive disabled", http.StatusNotFound)
		return
	}

	rec, err := s.deps.Archive.Latest(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "No archived snapshot", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// GET /api/v1/executions/{id}
func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	execution, err := s.deps.Executions.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if execution == nil {
		http.Error(w, "Execution not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(execution)
}
