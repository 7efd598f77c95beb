package config

import (
	"time"

	"github.com/unknown-philosopher/kgraph/internal/llm"
)

// Config is the root configuration for kgraph.
type Config struct {
	Core      CoreConfig         `mapstructure:"core" yaml:"core" validate:"required"`
	Database  DBConfig           `mapstructure:"database" yaml:"database" validate:"required"`
	LLM       llm.ProviderConfig `mapstructure:"llm" yaml:"llm"`
	RateLimit RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Dedup     DedupConfig        `mapstructure:"dedup" yaml:"dedup"`
	Knowledge KnowledgeConfig    `mapstructure:"knowledge" yaml:"knowledge"`
	Logging   LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

// CoreConfig contains core application settings.
type CoreConfig struct {
	HomeDir string        `mapstructure:"home_dir" yaml:"home_dir"`
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=1s"`
	Debug   bool          `mapstructure:"debug" yaml:"debug"`
}

// DBConfig contains database configuration.
type DBConfig struct {
	Path           string        `mapstructure:"path" yaml:"path"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections" validate:"min=1,max=100"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=1s"`
	WALMode        bool          `mapstructure:"wal_mode" yaml:"wal_mode"`
}

// RateLimitConfig contains throttling settings for LLM calls.
type RateLimitConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"min=1,max=64"`
	MinDelay          time.Duration `mapstructure:"min_delay" yaml:"min_delay" validate:"min=0"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`
	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay" yaml:"initial_retry_delay" validate:"min=0"`
	OverallTimeout    time.Duration `mapstructure:"overall_timeout" yaml:"overall_timeout,omitempty"`
}

// DedupConfig contains deduplication settings.
type DedupConfig struct {
	// Threshold is the minimum similarity score for a candidate pair to be
	// considered for merging.
	Threshold float64 `mapstructure:"threshold" yaml:"threshold" validate:"min=0,max=1"`

	// AutoMerge skips LLM confirmation and merges every surviving candidate.
	AutoMerge bool `mapstructure:"auto_merge" yaml:"auto_merge"`

	// Model overrides the provider default for merge confirmation calls.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
}

// KnowledgeConfig contains document ingestion settings.
type KnowledgeConfig struct {
	ChunkSize    int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"min=64"`
	ChunkOverlap int `mapstructure:"chunk_overlap" yaml:"chunk_overlap" validate:"min=0"`
	MaxParallel  int `mapstructure:"max_parallel" yaml:"max_parallel" validate:"min=1,max=32"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=json text"`
}

// MetricsConfig contains metrics export configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}
