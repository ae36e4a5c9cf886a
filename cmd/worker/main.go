package main

import (
	"context"
	"log"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"kustoingest/internal/journal"
	"kustoingest/internal/pipeline"
	"kustoingest/internal/task"

	_ "kustoingest/internal/journal/postgres"
	_ "kustoingest/internal/journal/sqlite"
)

const (
	defaultTemporalAddr = "localhost:7233"
	defaultNamespace    = "default"
	defaultTaskQueue    = "kustoingest"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	temporalAddr := getEnv("TEMPORAL_ADDRESS", defaultTemporalAddr)
	namespace := getEnv("TEMPORAL_NAMESPACE", defaultNamespace)
	taskQueue := getEnv("KUSTOINGEST_TASK_QUEUE", defaultTaskQueue)

	log.Printf("Starting kustoingest worker: address=%s namespace=%s queue=%s",
		temporalAddr, namespace, taskQueue)

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	var jr journal.Repository
	if kind := os.Getenv("KUSTOINGEST_JOURNAL"); kind != "" && kind != "none" {
		repo, err := journal.New(context.Background(), journal.Config{
			Kind: kind,
			DSN:  os.Getenv("KUSTOINGEST_JOURNAL_DSN"),
		})
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to ensure journal schema: %v", err)
		}
		jr = repo
	}

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  temporalAddr,
		Namespace: namespace,
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	// Create worker
	w := worker.New(c, taskQueue, worker.Options{})

	// Register activities
	acts := task.NewActivities(&pipeline.Runner{
		Connect: pipeline.KustoConnect,
		Log:     logger,
		Journal: jr,
	})
	w.RegisterActivity(acts.Ingest)

	log.Printf("Registered activities: Ingest")

	// Run worker
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
