// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"
)

func TestVerifyHMAC(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event_type":"updated","entity":"contacts","record_id":"1"}`)
	sig := SignHMAC(body, "s3cret")

	tests := []struct {
		name     string
		header   string
		secret   string
		body     []byte
		expected bool
	}{
		{"valid", sig, "s3cret", body, true},
		{"valid with prefix", "sha256=" + sig, "s3cret", body, true},
		{"uppercase hex", strings.ToUpper(sig), "s3cret", body, true},
		{"wrong secret", sig, "other", body, false},
		{"tampered body", sig, "s3cret", []byte(string(body) + " "), false},
		{"missing header", "", "s3cret", body, false},
		{"garbage header", "zz", "s3cret", body, false},
		{"no secret accepts unsigned", "", "", body, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := http.Header{}
			if tt.header != "" {
				h.Set(SignatureHeader, tt.header)
			}
			if got := VerifyHMAC(tt.body, h, tt.secret); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestHubSpotSignatureV1(t *testing.T) {
	t.Parallel()

	p := NewHubSpotProvider(HubSpotOptions{})
	body := []byte(`[{"objectId":1}]`)
	sum := sha256.Sum256(append([]byte("client-secret"), body...))

	h := http.Header{}
	h.Set(HubSpotSignatureHeader, hex.EncodeToString(sum[:]))
	if !p.ValidateWebhookSignature(body, h, "client-secret") {
		t.Errorf("expected v1 signature to validate")
	}
	if p.ValidateWebhookSignature(body, h, "wrong") {
		t.Errorf("expected wrong secret to fail")
	}
	if !p.ValidateWebhookSignature(body, http.Header{}, "") {
		t.Errorf("expected empty secret to accept unsigned webhook")
	}
}
