package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/collabfabric/engine/internal/database"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		runMigrationsUp()
	case "gc-checkpoints":
		runCheckpointGC()
	default:
		fmt.Println("Usage: migrate [up|gc-checkpoints]")
		fmt.Println("  up                              - run schema migrations")
		fmt.Println("  gc-checkpoints [retention_hours] - delete checkpoints/ops older than retention (default 24h), keeping each document's latest checkpoint")
		os.Exit(1)
	}
}

func runMigrationsUp() {
	log.Println("connecting to database...")

	if err := database.Initialize(); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("database connected, running migrations...")

	if err := database.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("migrations completed successfully")
}

// runCheckpointGC sweeps the checkpoint chain and op-log for rows older
// than the retention window, per the persistence contract's "checkpoints
// older than the retention window are garbage collected" rule. Each
// document's latest checkpoint is always kept so a cold-started instance
// can still restore it.
func runCheckpointGC() {
	retention := 24 * time.Hour
	if len(os.Args) > 2 {
		hours, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("invalid retention_hours %q: %v", os.Args[2], err)
		}
		retention = time.Duration(hours) * time.Hour
	}

	if err := database.Initialize(); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	store := database.NewCheckpointStore()
	checkpointsDeleted, opsDeleted, err := store.DeleteStaleCheckpoints(retention)
	if err != nil {
		log.Fatalf("checkpoint gc failed: %v", err)
	}

	log.Printf("checkpoint gc complete: deleted %d checkpoints, %d op-log rows older than %s\n",
		checkpointsDeleted, opsDeleted, retention)
}
