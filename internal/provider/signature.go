// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of a webhook body. A
// "sha256=" prefix is accepted.
const SignatureHeader = "X-Signature-256"

// SignHMAC returns the hex-encoded HMAC-SHA256 of body keyed with secret.
func SignHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks the signature in SignatureHeader against body.
//
// An empty secret means the connection accepts unsigned webhooks and the
// check always passes. A configured secret with a missing or malformed
// header always fails.
func VerifyHMAC(body []byte, headers http.Header, secret string) bool {
	if secret == "" {
		return true
	}
	got := strings.TrimPrefix(strings.TrimSpace(headers.Get(SignatureHeader)), "sha256=")
	if got == "" {
		return false
	}
	return equalHex(got, SignHMAC(body, secret))
}

// equalHex compares two hex digests in constant time, ignoring case.
func equalHex(a, b string) bool {
	da, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	db, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	return hmac.Equal(da, db)
}
