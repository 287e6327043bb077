package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aura/underwriting/internal/api"
	"github.com/aura/underwriting/internal/cache"
	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/database"
	"github.com/aura/underwriting/internal/events"
	"github.com/aura/underwriting/internal/repository"
	"github.com/aura/underwriting/internal/snapshot"
	"github.com/aura/underwriting/internal/webhooks"
	"github.com/aura/underwriting/internal/websocket"
)

const (
	engineEventsTopic = "underwriting-events"
	relaySubscription = "underwriting-events-api-sub"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.PubSub.EmulatorHost != "" {
		os.Setenv("PUBSUB_EMULATOR_HOST", cfg.PubSub.EmulatorHost)
	}

	// Postgres (read side; the orchestrator owns migrations)
	db, err := database.Connect(cfg.Postgres.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	underwritings := repository.NewUnderwritingRepository(db)
	procRepo := repository.NewProcessorRepository(db)
	execRepo := repository.NewExecutionRepository(db)
	factors := repository.NewFactorRepository(db)
	workflowLog := repository.NewWorkflowLogRepository(db)

	redis := cache.New(cfg.Redis, time.Duration(cfg.PubSub.AckDeadlineSeconds)*time.Second)
	defer redis.Close()

	// Trigger publisher: POST /trigger/* → broker → orchestrator
	trigger, err := events.NewTriggerPublisher(cfg.PubSub.ProjectID)
	if err != nil {
		log.Fatalf("Failed to connect trigger publisher: %v", err)
	}
	defer trigger.Close()

	// Local bus fed by the engine event topic; drives the WebSocket
	// stream and the webhook bridge.
	bus := events.NewEventBus()
	relay, err := events.NewRelay(cfg.PubSub.ProjectID, engineEventsTopic, relaySubscription, bus)
	if err != nil {
		log.Fatalf("Failed to connect event relay: %v", err)
	}
	defer relay.Close()

	streamer := websocket.NewStageStreamer(bus)
	go streamer.Run()

	// Webhooks: Cloud Tasks when configured, in-memory pool otherwise
	hooks := webhooks.NewRegistry()
	var emitter webhooks.WebhookEmitter
	if cfg.Tasks.Enabled() {
		emitter, err = webhooks.NewCloudDispatcher(hooks, cfg.Tasks.Project, cfg.Tasks.Location, cfg.Tasks.Queue, 4)
		if err != nil {
			log.Fatalf("Failed to connect Cloud Tasks dispatcher: %v", err)
		}
	} else {
		emitter = webhooks.NewDispatcher(hooks, 4)
	}
	defer emitter.Shutdown()

	bridge := webhooks.NewBridge(bus, emitter)
	go bridge.Run()
	defer bridge.Stop()

	// Snapshot archive read side
	archiver, err := snapshot.New(cfg.Snapshot, db, factors)
	if err != nil {
		log.Fatalf("Failed to initialize snapshot archiver: %v", err)
	}
	defer archiver.Close()

	server := api.NewServer(cfg.API, api.Deps{
		DB:            db,
		Underwritings: underwritings,
		Processors:    procRepo,
		Executions:    execRepo,
		Factors:       factors,
		Workflows:     workflowLog,
		Archive:       archiver,
		Trigger:       trigger,
		Hooks:         hooks,
		Stream:        streamer,
		Cache:         redis,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Relay runs until shutdown; a relay failure degrades the stream but
	// not the REST surface.
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Printf("⚠️  Event relay stopped: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Println("Received shutdown signal, shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Underwriting API starting on port %s", cfg.API.Port)
	log.Printf("📊 Health check: http://localhost:%s/health", cfg.API.Port)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}
