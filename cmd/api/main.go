package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/composer/internal/api"
	"github.com/bobarin/composer/internal/config"
	"github.com/bobarin/composer/internal/db"
	"github.com/bobarin/composer/internal/limiter"
	"github.com/bobarin/composer/internal/pipeline"
	"github.com/bobarin/composer/internal/queue"
	"github.com/bobarin/composer/internal/services"
	"github.com/bobarin/composer/internal/storage"
	"github.com/bobarin/composer/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("Starting Composer API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		log.Fatalf("Failed to apply schema: %v", err)
	}
	cancelMigrate()

	opts := worker.Options{
		Store:           database,
		Limiter:         limiter.New(cfg.MaxConcurrentEncodes),
		MediaRoot:       cfg.MediaRoot,
		CompositionsDir: cfg.CompositionsDir,
	}

	// Redis queue is optional; without it compositions run inline
	if cfg.RedisURL != "" {
		q, err := queue.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		opts.Queue = q
		log.Println("Connected to Redis queue")
	} else {
		log.Println("No REDIS_URL set, compositions run inline")
	}

	if cfg.StorageEnabled() {
		opts.Publisher = storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		log.Printf("Publishing compositions to Supabase bucket %s", cfg.SupabaseStorageBucket)
	}

	if cfg.OpenAIKey != "" {
		opts.Transcriber = services.NewOpenAIService(cfg.OpenAIKey)
		log.Println("Whisper transcription enabled for captions")
	}

	ffmpeg := services.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	runner := services.NewStageRunner(ffmpeg, cfg.StageTimeout)
	opts.Renderer = pipeline.New(runner, cfg.TempDir, pipeline.Fonts{
		Regular: cfg.CaptionFontFile,
		Bold:    cfg.CaptionBoldFontFile,
	})

	manager := worker.New(opts)
	log.Printf("Encoding up to %d composition(s) at once (stage timeout %v)", cfg.MaxConcurrentEncodes, cfg.StageTimeout)

	// Create API handler
	handler := api.NewHandler(manager)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start queue consumer if enabled
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")
		go manager.Start(workerCtx)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop taking new queue work
	workerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Let in-flight compositions finish
	if err := manager.Wait(ctx); err != nil {
		log.Printf("Shutdown timed out with compositions still running: %v", err)
	}

	log.Println("Server exited")
}
