package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool   // consume the Redis queue in this process
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis (empty = compositions run inline, no queue)
	RedisURL string

	// Media
	MediaRoot       string // stored clip, voiceover and logo paths are relative to it
	CompositionsDir string // relative to MediaRoot
	TempDir         string // per-run working directories

	// Encoding
	MaxConcurrentEncodes int
	StageTimeout         time.Duration // 0 = no watchdog
	FFmpegPath           string
	FFprobePath          string
	CaptionFontFile      string
	CaptionBoldFontFile  string

	// OpenAI (optional, transcribes voiceovers for captions)
	OpenAIKey string

	// Supabase (optional, publishes finished compositions)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		MediaRoot:             getEnv("MEDIA_ROOT", "."),
		CompositionsDir:       getEnv("COMPOSITIONS_DIR", "uploads/compositions"),
		TempDir:               getEnv("TEMP_DIR", os.TempDir()),
		MaxConcurrentEncodes:  getEnvInt("MAX_CONCURRENT_ENCODES", 2),
		StageTimeout:          getEnvDuration("STAGE_TIMEOUT", 30*time.Minute),
		FFmpegPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           getEnv("FFPROBE_PATH", "ffprobe"),
		CaptionFontFile:       getEnv("CAPTION_FONT_FILE", ""),
		CaptionBoldFontFile:   getEnv("CAPTION_BOLD_FONT_FILE", ""),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "compositions"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.MaxConcurrentEncodes < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_ENCODES must be at least 1, got %d", cfg.MaxConcurrentEncodes)
	}

	if (cfg.SupabaseURL == "") != (cfg.SupabaseServiceKey == "") {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}

	return cfg, nil
}

// StorageEnabled reports whether finished compositions are published to Supabase.
func (c *Config) StorageEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
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

// getEnvDuration accepts Go durations ("90s", "20m") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
