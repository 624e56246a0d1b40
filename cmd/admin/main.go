package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/collabfabric/engine/internal/database"
)

var rootCmd = &cobra.Command{
	Use:   "collabctl",
	Short: "collabctl inspects and repairs document persistence state",
	Long: `collabctl talks directly to the engine's Postgres store to inspect a
document's checkpoint chain, sweep stale checkpoints, or check database health.
It does not go through the running engine instances.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return database.Initialize()
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <document-id>",
	Short: "show the latest checkpoint version and op-log length for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		documentID := args[0]
		store := database.NewCheckpointStore()

		cp, ok, err := store.LoadLatestCheckpoint(documentID)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if !ok {
			fmt.Printf("document %s has no checkpoint\n", documentID)
			return nil
		}

		ops, err := store.LoadOpsSince(documentID, cp.Version)
		if err != nil {
			return fmt.Errorf("load ops since checkpoint: %w", err)
		}

		fmt.Printf("document:          %s\n", documentID)
		fmt.Printf("checkpoint version: %d\n", cp.Version)
		fmt.Printf("checkpoint length:  %d bytes\n", len(cp.Content))
		fmt.Printf("ops since:          %d\n", len(ops))
		fmt.Printf("current version:    %d\n", cp.Version+uint64(len(ops)))
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc-checkpoints [retention-hours]",
	Short: "delete checkpoints and op-log rows older than the retention window",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		retention := 24 * time.Hour
		if len(args) == 1 {
			hours, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid retention-hours %q: %w", args[0], err)
			}
			retention = time.Duration(hours) * time.Hour
		}

		store := database.NewCheckpointStore()
		checkpointsDeleted, opsDeleted, err := store.DeleteStaleCheckpoints(retention)
		if err != nil {
			return fmt.Errorf("gc checkpoints: %w", err)
		}

		fmt.Printf("deleted %d checkpoints, %d op-log rows older than %s\n", checkpointsDeleted, opsDeleted, retention)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "check that the persistence store is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.Health(); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
		fmt.Println("database ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
