package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flexgen/api/internal/api"
	"github.com/flexgen/api/internal/caption"
	"github.com/flexgen/api/internal/config"
	"github.com/flexgen/api/internal/db"
	"github.com/flexgen/api/internal/queue"
	"github.com/flexgen/api/internal/render"
	"github.com/flexgen/api/internal/selector"
	"github.com/flexgen/api/internal/services"
	"github.com/flexgen/api/internal/worker"
)

func main() {
	log.Println("Starting FlexGen API...")

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

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// OpenAI backs both advisory ranking and caption candidates. Without a
	// key the selector runs on its heuristic and caption stages fail.
	var openaiSvc *services.OpenAIService
	if cfg.OpenAIKey != "" {
		openaiSvc = services.NewOpenAIService(cfg.OpenAIKey)
	} else {
		log.Println("WARNING: No OPENAI_API_KEY set — heuristic ranking only, caption generation unavailable")
	}

	var captionSource caption.Source
	var ranker selector.Ranker
	if openaiSvc != nil {
		captionSource = openaiSvc
		ranker = openaiSvc
	} else {
		captionSource = noCaptionSource{}
	}
	composer := caption.NewComposer(captionSource)

	// Create API handler
	handler := api.NewHandler(database, q, composer)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCtx context.Context
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		renderer := render.NewFFmpegRenderer(cfg.TempPath, cfg.ExportsPath,
			time.Duration(cfg.RenderTimeoutSec)*time.Second)

		var analyzer worker.ClipAnalyzer
		if cfg.GeminiKey != "" {
			analyzer = services.NewGeminiService(cfg.GeminiKey, cfg.GeminiModel)
			log.Println("Clip analysis enabled (Gemini)")
		} else {
			log.Println("Clip analysis disabled — no GEMINI_API_KEY set")
		}

		w := worker.New(database, q, selector.New(ranker), renderer, composer, analyzer)

		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
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

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// noCaptionSource keeps the composer usable when OpenAI is not configured:
// every compose call fails cleanly, which marks generations failed at the
// caption stage instead of panicking on a nil source.
type noCaptionSource struct{}

func (noCaptionSource) GenerateCaptions(ctx context.Context, req caption.Request) ([]caption.Candidate, error) {
	return nil, errors.New("caption generation is not configured (OPENAI_API_KEY missing)")
}
