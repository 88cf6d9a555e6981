// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package config

import (
	"fmt"
	"time"
)

// Lock backends.
const (
	LockBackendMemory = "memory"
	LockBackendBadger = "badger"
	LockBackendNATS   = "nats"
)

// Progress transports.
const (
	ProgressTransportMemory = "memory"
	ProgressTransportNATS   = "nats"
)

// Config holds all application configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: Override any setting via environment variables
//
// Example:
//
//	cfg, err := config.Load()
//	db, err := database.New(&cfg.Database, encryptor)
//	server := http.Server{Addr: cfg.Server.Addr()}
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	Breaker  BreakerConfig  `koanf:"breaker"`
	Lock     LockConfig     `koanf:"lock"`
	Progress ProgressConfig `koanf:"progress"`
	NATS     NATSConfig     `koanf:"nats"`
	HubSpot  HubSpotConfig  `koanf:"hubspot"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`

	// RateLimit is the per-IP request budget per minute. 0 disables limiting.
	RateLimit   int      `koanf:"rate_limit" validate:"gte=0"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds DuckDB settings
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory" validate:"required"`
	Threads   int    `koanf:"threads" validate:"gte=0"` // Number of DuckDB threads (0 = use NumCPU)
}

// SyncConfig holds orchestrator settings
type SyncConfig struct {
	// Concurrency bounds the records processed in parallel within one run.
	Concurrency int `koanf:"concurrency" validate:"gte=1,lte=64"`

	// MaxResultErrors caps the record errors kept on a run result.
	MaxResultErrors int `koanf:"max_result_errors" validate:"gte=1"`

	// LockWait is how long webhook and single-record runs wait for a busy
	// connection. Batch runs never wait.
	LockWait time.Duration `koanf:"lock_wait" validate:"gte=0"`

	// SchedulerTick is how often the scheduler looks for connections due a
	// poll.
	SchedulerTick time.Duration `koanf:"scheduler_tick" validate:"gte=0"`

	// ProviderRateLimit is the sustained provider calls per second allowed per
	// connection. 0 disables limiting.
	ProviderRateLimit float64 `koanf:"provider_rate_limit" validate:"gte=0"`
	ProviderBurst     int     `koanf:"provider_burst" validate:"gte=0"`
}

// BreakerConfig holds the per-connection circuit breaker thresholds.
type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"max_requests" validate:"gte=1"`
	Interval     time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout      time.Duration `koanf:"timeout" validate:"gte=0"`
	MinRequests  uint32        `koanf:"min_requests" validate:"gte=1"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gt=0,lte=1"`
}

// LockConfig selects the per-connection lock backend.
type LockConfig struct {
	Backend string        `koanf:"backend" validate:"required,oneof=memory badger nats"`
	Path    string        `koanf:"path"`
	TTL     time.Duration `koanf:"ttl" validate:"gte=0"`
	NATSURL string        `koanf:"nats_url"`
	Bucket  string        `koanf:"bucket"`
}

// ProgressConfig selects how progress events travel and where the latest
// event per scope is kept. An empty Path keeps it in memory.
type ProgressConfig struct {
	Transport string        `koanf:"transport" validate:"required,oneof=memory nats"`
	Path      string        `koanf:"path"`
	TTL       time.Duration `koanf:"ttl" validate:"gte=0"`
	NATSURL   string        `koanf:"nats_url"`
}

// NATSConfig controls the embedded NATS server. When enabled, the lock and
// progress backends that select nats connect to it instead of their
// configured URLs.
type NATSConfig struct {
	Embedded          bool   `koanf:"embedded"`
	Host              string `koanf:"host"`
	Port              int    `koanf:"port" validate:"gte=-1,lte=65535"`
	StoreDir          string `koanf:"store_dir"`
	JetStreamMaxMem   int64  `koanf:"jetstream_max_mem" validate:"gte=0"`
	JetStreamMaxStore int64  `koanf:"jetstream_max_store" validate:"gte=0"`
}

// UsesNATS reports whether any backend talks to NATS.
func (c *Config) UsesNATS() bool {
	return c.Lock.Backend == LockBackendNATS || c.Progress.Transport == ProgressTransportNATS
}

// HubSpotConfig tunes the HubSpot API client.
type HubSpotConfig struct {
	BaseURL        string        `koanf:"base_url"`
	PageSize       int           `koanf:"page_size" validate:"gte=0,lte=100"`
	MaxRetries     int           `koanf:"max_retries" validate:"gte=0"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"gte=0"`
}

// SecurityConfig holds secrets.
type SecurityConfig struct {
	// CredentialKey is the secret connection credentials are encrypted with
	// at rest. Changing it makes stored credentials unreadable.
	CredentialKey string `koanf:"credential_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`
}

// Load reads configuration from defaults, the optional config file and the
// environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
