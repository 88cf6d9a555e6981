// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package entity

import (
	"fmt"
	"strings"
)

// IdentityKey normalizes a value used to match records across systems:
// trimmed and lower-cased. Nil and blank values have no key.
func IdentityKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(x))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(x)))
	}
}
