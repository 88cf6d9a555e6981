// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/crmsync/config.yaml",
	"/etc/crmsync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8087,
			Timeout:     30 * time.Second,
			RateLimit:   300,
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Path:      "/data/crmsync.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Sync: SyncConfig{
			Concurrency:       4,
			MaxResultErrors:   100,
			LockWait:          5 * time.Second,
			SchedulerTick:     30 * time.Second,
			ProviderRateLimit: 10,
			ProviderBurst:     10,
		},
		Breaker: BreakerConfig{
			MaxRequests:  3,
			Interval:     time.Minute,
			Timeout:      2 * time.Minute,
			MinRequests:  10,
			FailureRatio: 0.6,
		},
		Lock: LockConfig{
			Backend: LockBackendBadger,
			Path:    "/data/locks",
			TTL:     10 * time.Minute,
			NATSURL: "nats://127.0.0.1:4222",
			Bucket:  "crmsync-locks",
		},
		Progress: ProgressConfig{
			Transport: ProgressTransportMemory,
			Path:      "/data/progress",
			TTL:       time.Hour,
			NATSURL:   "nats://127.0.0.1:4222",
		},
		NATS: NATSConfig{
			Embedded:          false,
			Host:              "127.0.0.1",
			Port:              4222,
			StoreDir:          "/data/nats",
			JetStreamMaxMem:   64 << 20,
			JetStreamMaxStore: 1 << 30,
		},
		HubSpot: HubSpotConfig{
			BaseURL:        "https://api.hubapi.com",
			PageSize:       100,
			MaxRetries:     5,
			RetryBaseDelay: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// SYNC_CONCURRENCY -> sync.concurrency
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	// Server mappings
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit",
	"cors_origins":        "server.cors_origins",

	// Database mappings
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Sync mappings
	"sync_concurrency":       "sync.concurrency",
	"sync_max_result_errors": "sync.max_result_errors",
	"sync_lock_wait":         "sync.lock_wait",
	"sync_scheduler_tick":    "sync.scheduler_tick",
	"provider_rate_limit":    "sync.provider_rate_limit",
	"provider_burst":         "sync.provider_burst",

	// Breaker mappings
	"breaker_max_requests":  "breaker.max_requests",
	"breaker_interval":      "breaker.interval",
	"breaker_timeout":       "breaker.timeout",
	"breaker_min_requests":  "breaker.min_requests",
	"breaker_failure_ratio": "breaker.failure_ratio",

	// Lock mappings
	"lock_backend":  "lock.backend",
	"lock_path":     "lock.path",
	"lock_ttl":      "lock.ttl",
	"lock_nats_url": "lock.nats_url",
	"lock_bucket":   "lock.bucket",

	// Progress mappings
	"progress_transport": "progress.transport",
	"progress_path":      "progress.path",
	"progress_ttl":       "progress.ttl",
	"progress_nats_url":  "progress.nats_url",

	// NATS mappings
	"nats_embedded":            "nats.embedded",
	"nats_host":                "nats.host",
	"nats_port":                "nats.port",
	"nats_store_dir":           "nats.store_dir",
	"nats_jetstream_max_mem":   "nats.jetstream_max_mem",
	"nats_jetstream_max_store": "nats.jetstream_max_store",

	// HubSpot mappings
	"hubspot_base_url":         "hubspot.base_url",
	"hubspot_page_size":        "hubspot.page_size",
	"hubspot_max_retries":      "hubspot.max_retries",
	"hubspot_retry_base_delay": "hubspot.retry_base_delay",

	// Security mappings
	"credential_key": "security.credential_key",

	// Logging mappings
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DUCKDB_PATH -> database.path
//   - SYNC_LOCK_WAIT -> sync.lock_wait
//   - LOCK_BACKEND -> lock.backend
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	// For unmapped keys, return empty string to skip them
	return ""
}
