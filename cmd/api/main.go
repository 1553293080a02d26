package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velvetroom/narrative-engine/internal/config"
	"github.com/velvetroom/narrative-engine/internal/engine"
	"github.com/velvetroom/narrative-engine/internal/handlers"
	"github.com/velvetroom/narrative-engine/internal/logger"
	"github.com/velvetroom/narrative-engine/internal/middleware"
	"github.com/velvetroom/narrative-engine/internal/services"
	"github.com/velvetroom/narrative-engine/internal/services/queue"
	"github.com/velvetroom/narrative-engine/internal/storage"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg)

	log.Info("Starting Narrative Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"data_dir", cfg.DataDir)

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
	log.Info("Storage connection established successfully")

	graph := storage.NewGraphStore(cfg.DataDir, log)
	if err := graph.Load(); err != nil {
		// Partial loads keep serving whatever parsed.
		log.Warn("Story graph loaded with errors", "error", err)
	}
	if len(graph.Stories()) == 0 {
		log.Error("No stories loaded", "data_dir", cfg.DataDir)
		os.Exit(1)
	}
	log.Info("Story graph loaded", "stories", len(graph.Stories()))

	users := services.NewUserService(store.Client(), log, cfg.ElevatedUsers)
	metricsQueue := queue.NewMetricsQueue(queue.NewClientFromRedis(store.Client(), log))

	eng := engine.New(engine.Deps{
		Graph:        graph,
		Store:        store,
		Facts:        users,
		Ledger:       users,
		Achievements: users,
		Lore:         users,
		Access:       users,
		Metrics:      metricsQueue,
		Logger:       log,
	})

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(store, graph, log)
	mux.Handle("/health", healthHandler)

	storiesHandler := handlers.NewStoriesHandler(graph, store, log)
	mux.Handle("/v1/stories", storiesHandler)
	mux.Handle("/v1/stories/", storiesHandler)

	narrativeHandler := handlers.NewNarrativeHandler(eng, log)
	mux.Handle("/v1/narrative/", narrativeHandler)

	handler := middleware.Logger(mux)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Server exited")
}
