package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velvetroom/narrative-engine/internal/config"
	"github.com/velvetroom/narrative-engine/internal/logger"
	"github.com/velvetroom/narrative-engine/internal/services/queue"
	"github.com/velvetroom/narrative-engine/internal/storage"
	"github.com/velvetroom/narrative-engine/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg)

	log.Info("Starting Narrative Engine Worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL)

	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()

	metricsQueue := queue.NewMetricsQueue(queueClient)
	log.Info("Queue service initialized successfully")

	store, err := storage.NewRedisStorage(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create storage", "error", err)
		os.Exit(1)
	}
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if err := store.WaitForConnection(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage service initialized successfully")

	w := worker.New(metricsQueue, store, log, cfg.WorkerID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for metric events...")

	<-quit
	log.Info("Worker shutdown signal received")

	w.Stop()

	// Drain whatever is already queued before exiting.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if processed, err := w.Drain(drainCtx); err != nil {
		log.Error("Drain on shutdown failed", "error", err, "processed", processed)
	} else if processed > 0 {
		log.Info("Drained remaining metric events", "processed", processed)
	}

	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Worker exited")
}
