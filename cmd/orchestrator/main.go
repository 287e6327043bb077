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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aura/underwriting/internal/cache"
	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/database"
	"github.com/aura/underwriting/internal/engine"
	"github.com/aura/underwriting/internal/events"
	"github.com/aura/underwriting/internal/monitoring"
	"github.com/aura/underwriting/internal/processors"
	"github.com/aura/underwriting/internal/repository"
	"github.com/aura/underwriting/internal/snapshot"
	"github.com/aura/underwriting/internal/subscriber"
)

// engineEventsTopic carries processor lifecycle and workflow completion
// events for downstream consumers (API stream relay, analytics).
const engineEventsTopic = "underwriting-events"

func main() {
	log.Println("🔥 Starting Underwriting Processing Engine...")

	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.PubSub.EmulatorHost != "" {
		os.Setenv("PUBSUB_EMULATOR_HOST", cfg.PubSub.EmulatorHost)
		log.Printf("🧪 Using Pub/Sub emulator at %s", cfg.PubSub.EmulatorHost)
	}

	// 1. Postgres + schema
	db, err := database.Connect(cfg.Postgres.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// 2. Stores
	underwritings := repository.NewUnderwritingRepository(db)
	procRepo := repository.NewProcessorRepository(db)
	execRepo := repository.NewExecutionRepository(db)
	factors := repository.NewFactorRepository(db)
	workflowLog := repository.NewWorkflowLogRepository(db)

	// 3. Processor registry + file-level config defaults
	registry := engine.NewRegistry()
	processors.RegisterAll(registry)
	log.Printf("📋 Registered %d processors: %v", registry.Len(), registry.Names())

	defaults, err := config.LoadDefaults("configs/processors.yaml")
	if err != nil {
		log.Fatalf("Failed to load processor defaults: %v", err)
	}

	// 4. Engine event bus (Pub/Sub backed, in-memory fan-out retained)
	bus, err := events.NewPubSubEventBus(cfg.PubSub.ProjectID, engineEventsTopic)
	if err != nil {
		log.Fatalf("Failed to connect event bus: %v", err)
	}
	defer bus.Close()

	// 5. Engine stages
	metrics := monitoring.NewMetrics()
	pipeline := engine.NewPipeline(bus)
	filtration := engine.NewFiltration(underwritings, procRepo, execRepo, registry, workflowLog)
	executor := engine.NewExecutor(execRepo, procRepo, registry, pipeline, defaults, workflowLog, metrics, cfg.Engine.WorkerPoolSize)
	consolidation := engine.NewConsolidation(procRepo, execRepo, factors, registry, workflowLog, metrics)
	orchestrator := engine.NewOrchestrator(
		filtration, executor, consolidation,
		underwritings, procRepo, execRepo, factors,
		workflowLog, bus, metrics,
	)
	scheduler := engine.NewScheduler(metrics)

	// 6. Redis (optional): broker idempotency + snapshot cache
	redis := cache.New(cfg.Redis, time.Duration(cfg.PubSub.AckDeadlineSeconds)*time.Second)
	defer redis.Close()

	// 7. Factor snapshot archive, fed from workflow completions
	archiver, err := snapshot.New(cfg.Snapshot, db, factors)
	if err != nil {
		log.Fatalf("Failed to initialize snapshot archiver: %v", err)
	}
	defer archiver.Close()

	listener := snapshot.NewListener(bus.EventBus, archiver, redis)
	go listener.Run()
	defer listener.Stop()

	// 8. Broker subscriber: the engine's only entry point
	sub, err := subscriber.New(cfg.PubSub, orchestrator, scheduler, procRepo, execRepo, redis, metrics)
	if err != nil {
		log.Fatalf("Failed to initialize subscriber: %v", err)
	}
	defer sub.Close()

	// 9. Metrics sidecar listener; the API process serves its own /metrics
	if cfg.Engine.MetricsPort != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			log.Printf("📊 Metrics listening on :%s", cfg.Engine.MetricsPort)
			if err := http.ListenAndServe(":"+cfg.Engine.MetricsPort, mux); err != nil {
				log.Printf("⚠️  Metrics listener stopped: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("🚀 Orchestrator running (pool=%d, project=%s)", cfg.Engine.WorkerPoolSize, cfg.PubSub.ProjectID)

	if err := sub.Run(ctx); err != nil {
		log.Fatalf("Subscriber stopped: %v", err)
	}

	log.Println("Orchestrator stopped")
}
