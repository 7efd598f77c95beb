package config

import (
	"path/filepath"
	"time"

	"github.com/unknown-philosopher/kgraph/internal/ratelimit"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	homeDir := DefaultHomeDir()

	return &Config{
		Core: CoreConfig{
			HomeDir: homeDir,
			DataDir: filepath.Join(homeDir, "data"),
			Timeout: 5 * time.Minute,
			Debug:   false,
		},
		Database: DBConfig{
			Path:           filepath.Join(homeDir, "kgraph.db"),
			MaxConnections: 10,
			Timeout:        30 * time.Second,
			WALMode:        true,
		},
		RateLimit: RateLimitConfig{
			MaxConcurrent:     ratelimit.DefaultMaxConcurrent,
			MinDelay:          ratelimit.DefaultMinDelay,
			MaxRetries:        ratelimit.DefaultMaxRetries,
			InitialRetryDelay: ratelimit.DefaultInitialRetryDelay,
		},
		Dedup: DedupConfig{
			Threshold: 0.85,
			AutoMerge: false,
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:    1200,
			ChunkOverlap: 200,
			MaxParallel:  4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}
