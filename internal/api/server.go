// Package api is the HTTP face of the engine: workflow trigger
// publishing, read endpoints over the underwriting data, webhook
// management and the live stage stream. The API never runs workflows
// in-process; triggers go through the broker so the orchestrator keeps
// its per-case serialization.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aura/underwriting/internal/cache"
	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/core"
	"github.com/aura/underwriting/internal/middleware"
	"github.com/aura/underwriting/internal/snapshot"
	"github.com/aura/underwriting/internal/webhooks"
	"github.com/aura/underwriting/internal/websocket"
)

// Read-side contracts. The postgres repositories satisfy all of them;
// handler tests substitute fakes.
type (
	SnapshotReader interface {
		GetSnapshot(ctx context.Context, id string) (*core.Underwriting, error)
	}
	ProcessorReader interface {
		ListByUnderwriting(ctx context.Context, underwritingID string) ([]core.UnderwritingProcessor, error)
	}
	ExecutionReader interface {
		GetByID(ctx context.Context, id string) (*core.Execution, error)
		ListByUnderwriting(ctx context.Context, underwritingID string) ([]core.Execution, error)
	}
	FactorReader interface {
		ListActive(ctx context.Context, underwritingID string) ([]core.Factor, error)
	}
	WorkflowReader interface {
		ListByUnderwriting(ctx context.Context, underwritingID string) ([]core.WorkflowEntry, error)
	}
)

// TriggerPublisher publishes workflow trigger messages to the broker.
type TriggerPublisher interface {
	Publish(ctx context.Context, topicID string, payload interface{}) error
}

// Deps collects everything the server serves. Nil optional fields
// (Archive, Stream, Cache, Hooks) disable their endpoints gracefully.
type Deps struct {
	DB            *sql.DB
	Underwritings SnapshotReader
	Processors    ProcessorReader
	Executions    ExecutionReader
	Factors       FactorReader
	Workflows     WorkflowReader
	Archive       snapshot.Archiver
	Trigger       TriggerPublisher
	Hooks         *webhooks.Registry
	Stream        *websocket.StageStreamer
	Cache         *cache.Client
}

// Server exposes the engine over REST/JSON plus one WebSocket route.
type Server struct {
	deps   Deps
	cfg    config.APIConfig
	logger *log.Logger
}

func NewServer(cfg config.APIConfig, deps Deps) *Server {
	return &Server{
		deps:   deps,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table. The caller owns the http.Server
// so it controls timeouts and graceful shutdown.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Workflow triggers
	trigger := api.PathPrefix("/trigger").Subrouter()
	if s.cfg.RateLimitPerMinute > 0 {
		trigger.Use(middleware.NewRateLimiter(s.cfg.RateLimitPerMinute).Middleware)
	}
	trigger.HandleFunc("/workflow1", s.triggerWorkflow1).Methods("POST")
	trigger.HandleFunc("/workflow2", s.triggerWorkflow2).Methods("POST")
	trigger.HandleFunc("/workflow3", s.triggerWorkflow3).Methods("POST")
	trigger.HandleFunc("/workflow4", s.triggerWorkflow4).Methods("POST")
	trigger.HandleFunc("/workflow5", s.triggerWorkflow5).Methods("POST")

	// Read side
	api.HandleFunc("/underwritings/{id}", s.getUnderwriting).Methods("GET")
	api.HandleFunc("/underwritings/{id}/factors", s.listFactors).Methods("GET")
	api.HandleFunc("/underwritings/{id}/workflows", s.listWorkflows).Methods("GET")
	api.HandleFunc("/underwritings/{id}/executions", s.listExecutions).Methods("GET")
	api.HandleFunc("/underwritings/{id}/processors", s.listProcessors).Methods("GET")
	api.HandleFunc("/underwritings/{id}/archive", s.getArchive).Methods("GET")
	api.HandleFunc("/executions/{id}", s.getExecution).Methods("GET")

	// Webhook management
	api.HandleFunc("/webhooks", s.registerWebhook).Methods("POST")
	api.HandleFunc("/webhooks", s.listWebhooks).Methods("GET")
	api.HandleFunc("/webhooks/{id}", s.unregisterWebhook).Methods("DELETE")

	// Live stage stream
	if s.deps.Stream != nil {
		api.HandleFunc("/underwritings/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
			s.deps.Stream.HandleStream(w, r, mux.Vars(r)["id"])
		}).Methods("GET")
	}

	// Every other route is method-restricted, so preflight requests need
	// their own match for the CORS middleware to answer them.
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	r.Use(middleware.CORS)
	r.Use(middleware.Logging(s.logger))

	return r
}

// handleHealth reports dependency status. The API stays "healthy" while
// postgres answers; redis is optional and only reported.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	postgres := "connected"
	status := "healthy"
	if err := s.deps.DB.PingContext(ctx); err != nil {
		postgres = "error"
		status = "degraded"
	}

	redisStatus := "disabled"
	if s.deps.Cache != nil && s.deps.Cache.Enabled() {
		redisStatus = "connected"
		if err := s.deps.Cache.Ping(ctx); err != nil {
			redisStatus = "error"
		}
	}

	streamClients := 0
	if s.deps.Stream != nil {
		streamClients = s.deps.Stream.ClientCount()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         status,
		"service":        "underwriting-api",
		"postgres":       postgres,
		"redis":          redisStatus,
		"stream_clients": streamClients,
	})
}
