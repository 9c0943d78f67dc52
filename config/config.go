// Package config loads the process configuration from the environment, with a
// .env file as optional source.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Port the HTTP server listens on.
	Port int
	// DatabasePath locates the SQLite cache file.
	DatabasePath string
	// TMDBAPIKey, when set, overrides the key supplied by installs.
	TMDBAPIKey string
	// CacheTTL bounds raw response reuse.
	CacheTTL time.Duration
	// RateLimitEnabled toggles outbound TMDB pacing.
	RateLimitEnabled bool
	// RequestsPerSecond and MaxConcurrent bound outbound TMDB traffic.
	RequestsPerSecond int
	MaxConcurrent     int

	LogLevel      slog.Level
	LogFile       string
	LogMaxAgeDays int
}

// Load reads .env (when present) and the environment. Unset or unparseable
// values fall back to defaults, so a bare process still starts.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:              7000,
		DatabasePath:      "db/cache.db",
		TMDBAPIKey:        os.Getenv("TMDB_API_KEY"),
		CacheTTL:          180 * 24 * time.Hour,
		RateLimitEnabled:  true,
		RequestsPerSecond: 45,
		MaxConcurrent:     20,
		LogLevel:          slog.LevelInfo,
		LogFile:           "log/sagastream.log",
		LogMaxAgeDays:     3,
	}

	if v := envInt("PORT"); v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := envInt("CACHE_TTL_DAYS"); v > 0 {
		cfg.CacheTTL = time.Duration(v) * 24 * time.Hour
	}
	if strings.EqualFold(os.Getenv("RATE_LIMIT_ENABLED"), "false") {
		cfg.RateLimitEnabled = false
	}
	if v := envInt("REQUESTS_PER_SECOND"); v > 0 {
		cfg.RequestsPerSecond = v
	}
	if v := envInt("MAX_CONCURRENT"); v > 0 {
		cfg.MaxConcurrent = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := envInt("LOG_MAX_AGE_DAYS"); v > 0 {
		cfg.LogMaxAgeDays = v
	}
	return cfg
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
