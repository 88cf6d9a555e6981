// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package config provides centralized configuration management for the CRM sync
engine.

# Configuration Sources

Configuration is layered with Koanf v2, later layers overriding earlier ones:
 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: $CONFIG_PATH, ./config.yaml, /etc/crmsync/config.yaml
 3. Environment variables, through an explicit mapping table

Unmapped environment variables are ignored so that unrelated process
environment never leaks into the configuration.

# Configuration Structure

  - ServerConfig: HTTP listener for webhooks, progress websocket, health, metrics
  - DatabaseConfig: DuckDB path and tuning
  - SyncConfig: orchestrator concurrency, error caps, scheduler tick, provider rate limits
  - BreakerConfig: per-connection circuit breaker thresholds
  - LockConfig: per-connection lock backend (memory, badger, nats)
  - ProgressConfig: progress transport (memory, nats) and TTL store
  - HubSpotConfig: HubSpot API client tuning
  - SecurityConfig: credential encryption key
  - LoggingConfig: zerolog level and format

# Environment Variables

Server:
  - HTTP_HOST, HTTP_PORT, HTTP_TIMEOUT
  - RATE_LIMIT_REQUESTS: requests per minute per client IP (0 disables)
  - CORS_ORIGINS: comma-separated allowed origins

Database:
  - DUCKDB_PATH, DUCKDB_MAX_MEMORY, DUCKDB_THREADS

Sync:
  - SYNC_CONCURRENCY, SYNC_MAX_RESULT_ERRORS, SYNC_LOCK_WAIT, SYNC_SCHEDULER_TICK
  - PROVIDER_RATE_LIMIT, PROVIDER_BURST

Breaker:
  - BREAKER_MAX_REQUESTS, BREAKER_INTERVAL, BREAKER_TIMEOUT
  - BREAKER_MIN_REQUESTS, BREAKER_FAILURE_RATIO

Lock and progress:
  - LOCK_BACKEND, LOCK_PATH, LOCK_TTL, LOCK_NATS_URL, LOCK_BUCKET
  - PROGRESS_TRANSPORT, PROGRESS_PATH, PROGRESS_TTL, PROGRESS_NATS_URL

Security:
  - CREDENTIAL_KEY: secret the AES-256-GCM key for stored connection
    credentials is derived from (HKDF-SHA256)

Logging:
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}
	enc, err := config.NewCredentialEncryptor(cfg.Security.CredentialKey)
*/
package config
