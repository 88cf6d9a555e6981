// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Sync.Concurrency = 0 }, wantErr: "concurrency"},
		{name: "negative lock wait", mutate: func(c *Config) { c.Sync.LockWait = -1 }, wantErr: "lock_wait"},
		{name: "failure ratio above one", mutate: func(c *Config) { c.Breaker.FailureRatio = 1.5 }, wantErr: "breaker"},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging"},
		{name: "badger lock without path", mutate: func(c *Config) { c.Lock.Path = "" }, wantErr: "LOCK_PATH"},
		{name: "memory lock without path", mutate: func(c *Config) {
			c.Lock.Backend = LockBackendMemory
			c.Lock.Path = ""
		}},
		{name: "nats lock with http url", mutate: func(c *Config) {
			c.Lock.Backend = LockBackendNATS
			c.Lock.NATSURL = "http://localhost:4222"
		}, wantErr: "LOCK_NATS_URL"},
		{name: "nats lock without bucket", mutate: func(c *Config) {
			c.Lock.Backend = LockBackendNATS
			c.Lock.Bucket = ""
		}, wantErr: "LOCK_BUCKET"},
		{name: "nats progress", mutate: func(c *Config) { c.Progress.Transport = ProgressTransportNATS }},
		{name: "nats progress without host", mutate: func(c *Config) {
			c.Progress.Transport = ProgressTransportNATS
			c.Progress.NATSURL = "nats://"
		}, wantErr: "PROGRESS_NATS_URL"},
		{name: "embedded nats without a nats backend", mutate: func(c *Config) { c.NATS.Embedded = true }, wantErr: "NATS_EMBEDDED"},
		{name: "embedded nats without store dir", mutate: func(c *Config) {
			c.NATS.Embedded = true
			c.NATS.StoreDir = ""
			c.Lock.Backend = LockBackendNATS
		}, wantErr: "NATS_STORE_DIR"},
		{name: "embedded nats for progress", mutate: func(c *Config) {
			c.NATS.Embedded = true
			c.Progress.Transport = ProgressTransportNATS
		}},
		{name: "hubspot url with path", mutate: func(c *Config) { c.HubSpot.BaseURL = "https://api.hubapi.com/crm" }, wantErr: "HUBSPOT_BASE_URL"},
		{name: "hubspot page size too large", mutate: func(c *Config) { c.HubSpot.PageSize = 500 }, wantErr: "page_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected nil, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSharesBadgerPath(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if cfg.SharesBadgerPath() {
		t.Error("expected default lock and progress paths to differ")
	}
	cfg.Progress.Path = cfg.Lock.Path
	if !cfg.SharesBadgerPath() {
		t.Error("expected shared path to be reported")
	}
	cfg.Lock.Backend = LockBackendMemory
	if cfg.SharesBadgerPath() {
		t.Error("expected memory lock backend never to share")
	}
}

func TestServerAddr(t *testing.T) {
	t.Parallel()

	s := ServerConfig{Host: "127.0.0.1", Port: 8087}
	if got := s.Addr(); got != "127.0.0.1:8087" {
		t.Errorf("expected 127.0.0.1:8087, got %s", got)
	}
}
