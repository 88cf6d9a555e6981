// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// isolate points CONFIG_PATH at a missing file and moves into an empty
// directory so no stray config.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "missing.yaml"))
	return dir
}

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Sync.Concurrency != 4 {
		t.Errorf("Sync.Concurrency = %d, want 4", cfg.Sync.Concurrency)
	}
	if cfg.Sync.MaxResultErrors != 100 {
		t.Errorf("Sync.MaxResultErrors = %d, want 100", cfg.Sync.MaxResultErrors)
	}
	if cfg.Sync.LockWait != 5*time.Second {
		t.Errorf("Sync.LockWait = %v, want 5s", cfg.Sync.LockWait)
	}
	if cfg.Lock.Backend != LockBackendBadger {
		t.Errorf("Lock.Backend = %q, want badger", cfg.Lock.Backend)
	}
	if cfg.Progress.Transport != ProgressTransportMemory {
		t.Errorf("Progress.Transport = %q, want memory", cfg.Progress.Transport)
	}
	if cfg.Breaker.FailureRatio != 0.6 {
		t.Errorf("Breaker.FailureRatio = %v, want 0.6", cfg.Breaker.FailureRatio)
	}
	if cfg.Database.Path != "/data/crmsync.duckdb" {
		t.Errorf("Database.Path = %q, want /data/crmsync.duckdb", cfg.Database.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadWithKoanf_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if !reflect.DeepEqual(cfg, defaultConfig()) {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadWithKoanf_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("SYNC_CONCURRENCY", "8")
	t.Setenv("SYNC_LOCK_WAIT", "250ms")
	t.Setenv("LOCK_BACKEND", "memory")
	t.Setenv("DUCKDB_PATH", "/tmp/test.duckdb")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CREDENTIAL_KEY", "k")
	t.Setenv("BREAKER_FAILURE_RATIO", "0.5")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Sync.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Sync.Concurrency)
	}
	if cfg.Sync.LockWait != 250*time.Millisecond {
		t.Errorf("expected lock wait 250ms, got %v", cfg.Sync.LockWait)
	}
	if cfg.Lock.Backend != LockBackendMemory {
		t.Errorf("expected memory lock backend, got %q", cfg.Lock.Backend)
	}
	if cfg.Database.Path != "/tmp/test.duckdb" {
		t.Errorf("expected database path override, got %q", cfg.Database.Path)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.Server.CORSOrigins, want) {
		t.Errorf("expected %v, got %v", want, cfg.Server.CORSOrigins)
	}
	if cfg.Security.CredentialKey != "k" {
		t.Errorf("expected credential key, got %q", cfg.Security.CredentialKey)
	}
	if cfg.Breaker.FailureRatio != 0.5 {
		t.Errorf("expected failure ratio 0.5, got %v", cfg.Breaker.FailureRatio)
	}
}

func TestLoadWithKoanf_FileThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "crmsync.yaml")
	yaml := `
server:
  port: 9000
sync:
  concurrency: 2
  scheduler_tick: 1m
progress:
  transport: memory
  path: ""
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SYNC_CONCURRENCY", "6")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port from file, got %d", cfg.Server.Port)
	}
	if cfg.Sync.SchedulerTick != time.Minute {
		t.Errorf("expected scheduler tick from file, got %v", cfg.Sync.SchedulerTick)
	}
	if cfg.Sync.Concurrency != 6 {
		t.Errorf("expected env to win over file, got %d", cfg.Sync.Concurrency)
	}
	if cfg.Progress.Path != "" {
		t.Errorf("expected progress path cleared by file, got %q", cfg.Progress.Path)
	}
}

func TestLoadWithKoanf_InvalidFails(t *testing.T) {
	isolate(t)
	t.Setenv("LOCK_BACKEND", "etcd")

	if _, err := LoadWithKoanf(); err == nil {
		t.Error("expected validation error for unknown lock backend")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"DUCKDB_PATH", "database.path"},
		{"sync_lock_wait", "sync.lock_wait"},
		{"PROGRESS_NATS_URL", "progress.nats_url"},
		{"LOG_LEVEL", "logging.level"},
		{"HOME", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.key); got != tt.want {
			t.Errorf("envTransformFunc(%q): expected %q, got %q", tt.key, tt.want, got)
		}
	}
}
