package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
)

// Config holds everything the binaries need at startup. It is constructed
// once in main and passed down; no package keeps its own copy of the
// environment.
type Config struct {
	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	Port        string
	BaseURL     string
	DownloadDir string

	// Pipeline tunables. The defaults mirror the values the system was
	// tuned with in production; all of them are overridable.
	RetryThreshold       int
	DedupTTL             time.Duration
	PendingStaleness     time.Duration
	DownloadingStaleness time.Duration
	PopTimeout           time.Duration

	ExtractConcurrency  int
	DownloadConcurrency int

	// Reconciliation fan-out bounds.
	SweepFanout        int
	SweepFanoutAll     int
	AutoDownloadLatest int

	// Shared HTTP client used by extractors.
	HTTPTimeout    time.Duration
	DomainRate     float64
	DomainBurst    int
	FetchRetries   int
	RequestBackoff time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:     cast.ToInt(getenv("REDIS_DB", "0")),

		Port:        getenv("PORT", "8080"),
		BaseURL:     os.Getenv("BASE_URL"),
		DownloadDir: getenv("DOWNLOAD_DIR", "downloads"),

		RetryThreshold:       cast.ToInt(getenv("DOWNLOAD_RETRY_THRESHOLD", "5")),
		DedupTTL:             duration("DEDUP_TTL", 10*time.Minute),
		PendingStaleness:     duration("PENDING_STALENESS", 5*time.Minute),
		DownloadingStaleness: duration("DOWNLOADING_STALENESS", 10*time.Minute),
		PopTimeout:           duration("QUEUE_POP_TIMEOUT", 5*time.Second),

		ExtractConcurrency:  cast.ToInt(getenv("EXTRACT_CONCURRENCY", "2")),
		DownloadConcurrency: cast.ToInt(getenv("DOWNLOAD_CONCURRENCY", "2")),

		SweepFanout:        cast.ToInt(getenv("SWEEP_FANOUT", "20")),
		SweepFanoutAll:     cast.ToInt(getenv("SWEEP_FANOUT_ALL", "100")),
		AutoDownloadLatest: cast.ToInt(getenv("AUTO_DOWNLOAD_LATEST", "3")),

		HTTPTimeout:    duration("HTTP_TIMEOUT", 30*time.Second),
		DomainRate:     cast.ToFloat64(getenv("DOMAIN_RATE", "2")),
		DomainBurst:    cast.ToInt(getenv("DOMAIN_BURST", "4")),
		FetchRetries:   cast.ToInt(getenv("FETCH_RETRIES", "3")),
		RequestBackoff: duration("REQUEST_BACKOFF", 2*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if cfg.RetryThreshold < 1 {
		return nil, fmt.Errorf("DOWNLOAD_RETRY_THRESHOLD must be >= 1, got %d", cfg.RetryThreshold)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
