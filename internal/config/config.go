package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// OpenAI (advisory clip ranking + caption candidates; empty = heuristic
	// ranking only, caption stage fails jobs)
	OpenAIKey string

	// Gemini (clip content analysis; empty = analysis disabled)
	GeminiKey   string
	GeminiModel string

	// Media layout on local disk
	StorageRoot string
	ClipsPath   string
	AudioPath   string
	ExportsPath string
	TempPath    string

	// Render
	RenderTimeoutSec int

	// Worker
	MaxConcurrentJobs int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	storageRoot := getEnv("STORAGE_ROOT", "./media")

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", ""),
		StorageRoot:        storageRoot,
		ClipsPath:          getEnv("CLIPS_PATH", filepath.Join(storageRoot, "clips")),
		AudioPath:          getEnv("AUDIO_PATH", filepath.Join(storageRoot, "audio")),
		ExportsPath:        getEnv("EXPORTS_PATH", filepath.Join(storageRoot, "exports")),
		TempPath:           getEnv("TEMP_PATH", filepath.Join(storageRoot, "tmp")),
		RenderTimeoutSec:   getEnvInt("RENDER_TIMEOUT_SEC", 600),
		MaxConcurrentJobs:  getEnvInt("MAX_CONCURRENT_JOBS", 2),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RenderTimeoutSec <= 0 {
		return nil, fmt.Errorf("RENDER_TIMEOUT_SEC must be positive")
	}

	if cfg.MaxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
