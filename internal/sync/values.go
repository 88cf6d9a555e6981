// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"bytes"
	"reflect"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// sameValue compares field values the way they are stored. Snapshots may
// have been through JSON, so 3 and 3.0 or a time and its RFC 3339 text are
// equal.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return isEmpty(a) && isEmpty(b)
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) && reflect.TypeOf(a).Comparable() {
		return a == b
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ja, jb) || normalizedNumber(ja, jb)
}

// normalizedNumber treats 3 and 3.0 as equal.
func normalizedNumber(a, b []byte) bool {
	var na, nb float64
	if json.Unmarshal(a, &na) != nil || json.Unmarshal(b, &nb) != nil {
		return false
	}
	return na == nb
}

// isEmpty reports nil and blank strings.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

// delta returns the keys of payload whose values differ from snapshot.
func delta(payload, snapshot map[string]any) []string {
	var changed []string
	for k, v := range payload {
		if !sameValue(v, snapshot[k]) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
