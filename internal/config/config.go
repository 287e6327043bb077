package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds everything the engine reads from the environment.
// Every field has a documented default; env vars are the only
// configuration mechanism for the core.
type Config struct {
	Postgres PostgresConfig
	PubSub   PubSubConfig
	Engine   EngineConfig
	API      APIConfig
	Redis    RedisConfig
	Snapshot SnapshotConfig
	Tasks    CloudTasksConfig
}

type PostgresConfig struct {
	Host     string
	Port     string
	DB       string
	User     string
	Password string
}

// DSN renders the lib/pq connection string with the 3s connect timeout.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable connect_timeout=3",
		p.Host, p.Port, p.DB, p.User, p.Password,
	)
}

type PubSubConfig struct {
	ProjectID          string
	EmulatorHost       string // empty means real service
	AckDeadlineSeconds int
	SubscriptionSuffix string // "{topic}-orchestrator-sub"
	MaxOutstanding     int    // in-flight messages per receive loop; <=0 keeps the client default
}

type EngineConfig struct {
	WorkerPoolSize int    // bounded parallelism of the execution stage
	MetricsPort    string // orchestrator /metrics listener; empty disables it
}

type APIConfig struct {
	Port               string
	RateLimitPerMinute int // per-client trigger rate; 0 disables the limiter
}

type RedisConfig struct {
	Addr     string // empty disables redis entirely
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type SnapshotConfig struct {
	Backend         string // postgres, spanner, none
	SpannerDatabase string // projects/P/instances/I/databases/D
}

type CloudTasksConfig struct {
	Project  string // empty disables the cloud dispatcher
	Location string
	Queue    string
}

func (c CloudTasksConfig) Enabled() bool { return c.Project != "" }

// Load reads the environment. Callers load .env via godotenv before this.
func Load() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			DB:       getEnv("POSTGRES_DB", "aura_underwriting"),
			User:     getEnv("POSTGRES_USER", "aura_user"),
			Password: getEnv("POSTGRES_PASSWORD", "aura_password"),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", "aura-project"),
			EmulatorHost:       getEnv("PUBSUB_EMULATOR_HOST", "localhost:8085"),
			AckDeadlineSeconds: getEnvInt("ACK_DEADLINE_SECONDS", 60),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "orchestrator-sub"),
			MaxOutstanding:     getEnvInt("PUBSUB_MAX_OUTSTANDING", 100),
		},
		Engine: EngineConfig{
			WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 5),
			MetricsPort:    getEnv("METRICS_PORT", "9090"),
		},
		API: APIConfig{
			Port:               getEnv("API_PORT", "8080"),
			RateLimitPerMinute: getEnvInt("API_RATE_LIMIT_PER_MINUTE", 120),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Snapshot: SnapshotConfig{
			Backend:         getEnv("SNAPSHOT_BACKEND", "postgres"),
			SpannerDatabase: getEnv("SPANNER_DATABASE", ""),
		},
		Tasks: CloudTasksConfig{
			Project:  getEnv("CLOUD_TASKS_PROJECT", ""),
			Location: getEnv("CLOUD_TASKS_LOCATION", "us-central1"),
			Queue:    getEnv("CLOUD_TASKS_QUEUE", "aura-webhooks"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
