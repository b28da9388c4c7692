package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Vendor API
	TripoBaseURL         string
	TripoAuthURL         string
	TripoAuthFallbackURL string
	TripoAppID           string
	TripoAppSecret       string
	TripoReferer         string
	TripoOrigin          string
	TripoUserAgent       string
	TripoTokenTTL        time.Duration
	TripoTokenStore      string // "memory" or "database"
	TripoWebhookToken    string

	// Supabase
	SupabaseURL            string
	SupabasePublishableKey string
	SupabaseJWTSecret      string
	SupabaseStorageBucket  string

	// Webhook URL handed to the vendor at submit time
	WebhookCallbackURL string

	// Database
	DatabaseURL string

	// Pipeline
	TaskCreditsBase        int
	InstantReadyRenditions bool
	SweepInterval          time.Duration
	SweepMinAge            time.Duration

	// Server
	Port        string
	Environment string
	BaseURL     string
}

func Load() (*Config, error) {
	// Optional .env for local development; real deployments use the process env.
	_ = godotenv.Load()

	cfg := &Config{
		TripoBaseURL:         getEnv("TRIPO_API_BASE_URL", "https://api.tripo3d.ai/v2/openapi"),
		TripoAuthURL:         getEnv("TRIPO_AUTH_URL", ""),
		TripoAuthFallbackURL: getEnv("TRIPO_AUTH_FALLBACK_URL", ""),
		TripoAppID:           getEnv("TRIPO_APP_ID", ""),
		TripoAppSecret:       getEnv("TRIPO_APP_SECRET", ""),
		TripoReferer:         getEnv("TRIPO_REFERER", ""),
		TripoOrigin:          getEnv("TRIPO_ORIGIN", ""),
		TripoUserAgent:       getEnv("TRIPO_USER_AGENT", "meshforge-backend/1.0"),
		TripoTokenTTL:        getEnvDuration("TRIPO_TOKEN_TTL", 24*time.Hour),
		TripoTokenStore:      getEnv("TRIPO_TOKEN_STORE", "database"),
		TripoWebhookToken:    getEnv("TRIPO_WEBHOOK_TOKEN", ""),

		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabasePublishableKey: getEnv("SUPABASE_PUBLISHABLE_KEY", ""),
		SupabaseJWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "generated-assets"),

		WebhookCallbackURL: getEnv("WEBHOOK_CALLBACK_URL", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		TaskCreditsBase:        getEnvInt("TASK_CREDITS_BASE", 10),
		InstantReadyRenditions: getEnvBool("INSTANT_READY_RENDITIONS", true),
		SweepInterval:          getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		SweepMinAge:            getEnvDuration("SWEEP_MIN_AGE", 2*time.Minute),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TripoAppID == "" {
		return fmt.Errorf("TRIPO_APP_ID is required")
	}
	if c.TripoAppSecret == "" {
		return fmt.Errorf("TRIPO_APP_SECRET is required")
	}
	if c.TripoAuthURL == "" {
		return fmt.Errorf("TRIPO_AUTH_URL is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabasePublishableKey == "" {
		return fmt.Errorf("SUPABASE_PUBLISHABLE_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if c.TripoTokenStore != "memory" && c.TripoTokenStore != "database" {
		return fmt.Errorf("TRIPO_TOKEN_STORE must be memory or database")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
