package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all recognized runtime options.
type Config struct {
	Port        string
	Environment string

	DBPath   string
	CacheDir string

	CacheTTL           time.Duration
	CacheMemoryItemCap int

	MaxConcurrency    int
	InterRequestDelay time.Duration

	RankMetricAllowlist []string

	SyncAt     string // HH:MM, scheduler time
	JWTSecret  string
	WebhookURL string
}

// LoadConfig loads environment variables and validates the numeric options.
// Invalid values fail startup rather than silently falling back to defaults.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DBPath:      getEnv("DB_PATH", "data/rankings.db"),
		CacheDir:    getEnv("CACHE_DIR", "data/cache"),
		SyncAt:      getEnv("SYNC_AT", "16:30"),
		JWTSecret:   getEnv("JWT_SECRET", "change-me"),
		WebhookURL:  getEnv("WEBHOOK_URL", ""),
	}

	var err error
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CacheMemoryItemCap, err = getInt("CACHE_MEMORY_ITEM_CAP", 512); err != nil {
		return nil, err
	}
	if cfg.CacheMemoryItemCap <= 0 {
		return nil, fmt.Errorf("CACHE_MEMORY_ITEM_CAP must be > 0, got %d", cfg.CacheMemoryItemCap)
	}
	if cfg.MaxConcurrency, err = getInt("MAX_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("MAX_CONCURRENCY must be > 0, got %d", cfg.MaxConcurrency)
	}
	if cfg.InterRequestDelay, err = getDuration("INTER_REQUEST_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.InterRequestDelay < 0 {
		return nil, fmt.Errorf("INTER_REQUEST_DELAY must be >= 0, got %s", cfg.InterRequestDelay)
	}

	cfg.RankMetricAllowlist = splitList(getEnv("RANK_METRIC_ALLOWLIST", "rs_3d,rs_1m,rs_3m,rs_1y,rs_avg"))
	if len(cfg.RankMetricAllowlist) == 0 {
		return nil, fmt.Errorf("RANK_METRIC_ALLOWLIST must name at least one metric")
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
