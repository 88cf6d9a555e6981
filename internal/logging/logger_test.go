// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected default timestamp to be true")
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: true, Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("connection_id", "c1").Msg("sync started")

	output := buf.String()
	if !strings.Contains(output, "sync started") {
		t.Errorf("expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, `"connection_id":"c1"`) {
		t.Errorf("expected output to contain field, got: %s", output)
	}
}

func TestInitStampsService(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Service: "crmsync", Output: &buf})
	defer Init(DefaultConfig())

	Warn().Msg("lock busy")
	Debug().Msg("filtered out")

	output := buf.String()
	if !strings.Contains(output, `"service":"crmsync"`) {
		t.Errorf("expected service field, got: %s", output)
	}
	if strings.Contains(output, "filtered out") {
		t.Errorf("expected debug line to be filtered at info level, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSlogLoggerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	NewSlogLogger().With("service", "scheduler").WithGroup("run").Info("restarting", "attempt", 2)

	output := buf.String()
	if !strings.Contains(output, `"service":"scheduler"`) {
		t.Errorf("expected service attr, got: %s", output)
	}
	if !strings.Contains(output, `"run.attempt":2`) {
		t.Errorf("expected grouped attr, got: %s", output)
	}
}

func TestWatermillAdapter(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	adapter := NewWatermillAdapter("progress").With(watermill.LogFields{"topic": "progress.sync.s1"})
	adapter.Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 1})

	output := buf.String()
	for _, want := range []string{`"component":"progress"`, `"topic":"progress.sync.s1"`, `"error":"boom"`, "publish failed"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %s, got: %s", want, output)
		}
	}
}
