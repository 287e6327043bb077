// Command migrate applies, rolls back or reports the embedded schema
// migrations. Usage: migrate [up|down|status]
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/database"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	db, err := database.Connect(cfg.Postgres.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	switch command {
	case "up":
		err = database.Migrate(db)
	case "down":
		err = database.MigrateDown(db)
	case "status":
		err = database.MigrationStatus(db)
	default:
		log.Fatalf("Unknown command %q (want up, down or status)", command)
	}

	if err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}
