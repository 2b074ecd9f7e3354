// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns
// an error and the process exits.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"jobmate/pipeline-service/internal/model"
)

// Config holds all runtime configuration for the pipeline service.
type Config struct {
	StoreDriver string // "sqlite" or "postgres"
	SQLitePath  string
	DatabaseURL string
	RedisURL    string // empty disables event publishing

	Port     string
	GRPCPort string

	ScrapeIntervalHours int
	AdzunaAppID         string
	AdzunaAppKey        string
	AdzunaCountry       string
	Search              model.SearchConfig

	ProfilePath    string
	AnthropicKey   string
	AnthropicModel string

	EnrichQualityFloor int
	EnrichBatch        int
	EnrichRatePerMin   int
	BrowserEnabled     bool
	BrowserRemoteURL   string

	DedupWindow  time.Duration
	FollowupDays int

	LogLevel  slog.Level
	LogFormat string // "text" or "json"
}

// Load reads environment variables and returns a validated Config. A .env
// file in the working directory is read first; variables already set in
// the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		StoreDriver:      strings.ToLower(getenv("STORE_DRIVER", "sqlite")),
		SQLitePath:       getenv("SQLITE_PATH", "data/jobs.db"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		Port:             getenv("PIPELINE_PORT", "8083"),
		GRPCPort:         getenv("PIPELINE_GRPC_PORT", "9083"),
		AdzunaAppID:      os.Getenv("ADZUNA_APP_ID"),
		AdzunaAppKey:     os.Getenv("ADZUNA_APP_KEY"),
		AdzunaCountry:    getenv("ADZUNA_COUNTRY", "nl"),
		ProfilePath:      os.Getenv("PROFILE_PATH"),
		AnthropicKey:     os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:   os.Getenv("ANTHROPIC_MODEL"),
		BrowserRemoteURL: os.Getenv("BROWSER_REMOTE_URL"),
		LogFormat:        strings.ToLower(getenv("LOG_FORMAT", "text")),
		Search: model.SearchConfig{
			ID:        "default",
			JobTitles: splitList(getenv("SEARCH_TITLES", "software engineer,data engineer")),
			Locations: splitList(getenv("SEARCH_LOCATIONS", "amsterdam,utrecht,rotterdam")),
			RedFlags:  splitList(os.Getenv("RED_FLAGS")),
		},
	}

	switch cfg.StoreDriver {
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("SQLITE_PATH must not be empty")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be sqlite or postgres, got %q", cfg.StoreDriver)
	}

	var err error
	if cfg.ScrapeIntervalHours, err = positiveInt("SCRAPE_INTERVAL_HOURS", 6); err != nil {
		return nil, err
	}
	if cfg.EnrichQualityFloor, err = positiveInt("ENRICH_QUALITY_FLOOR", 50); err != nil {
		return nil, err
	}
	if cfg.EnrichQualityFloor > 100 {
		return nil, fmt.Errorf("ENRICH_QUALITY_FLOOR must be at most 100, got %d", cfg.EnrichQualityFloor)
	}
	if cfg.EnrichBatch, err = positiveInt("ENRICH_BATCH", 20); err != nil {
		return nil, err
	}
	if cfg.EnrichRatePerMin, err = positiveInt("ENRICH_RATE_PER_MIN", 20); err != nil {
		return nil, err
	}
	if cfg.FollowupDays, err = positiveInt("FOLLOWUP_DAYS", 7); err != nil {
		return nil, err
	}
	windowHours, err := positiveInt("DEDUP_WINDOW_HOURS", 24)
	if err != nil {
		return nil, err
	}
	cfg.DedupWindow = time.Duration(windowHours) * time.Hour

	if s := os.Getenv("BROWSER_ENABLED"); s != "" {
		if cfg.BrowserEnabled, err = strconv.ParseBool(s); err != nil {
			return nil, fmt.Errorf("BROWSER_ENABLED must be a boolean, got %q", s)
		}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return v, nil
}

// splitList parses a comma list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
