// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package transform implements the per-field value converters applied while
mapping records between the internal model and an external CRM.

Every function here is pure and synchronous. Transformations are best-effort:
when a value cannot be converted, Apply returns the original value together
with a *Warning describing what went wrong, and the caller logs it. A
transformation never aborts the sync of the field it belongs to.

Kinds and their behaviour:

	Kind                   Outbound                          Inbound
	uppercase/lowercase    cased string                      same
	trim                   trimmed string                    same
	date_format            time formatted with Layout        string parsed with built-in layouts
	lookup                 first entry with Internal == v    first entry with External == v
	concat                 Prefix + v + Suffix               unchanged
	split                  element Index of v split on sep   unchanged
	default                v, or Value when v is nil         same
	boolean                TrueValue/FalseValue or the bool  true for TrueValue, "true", "1", "yes"

Lookup tables are not required to be bijective. When several internal values
map to the same external value, inbound resolution returns the first entry in
table order.
*/
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Direction is the way a value is flowing when a transformation is applied.
type Direction int

const (
	// Outbound converts an internal value for the external CRM.
	Outbound Direction = iota
	// Inbound converts an external CRM value for the internal model.
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Warning reports a value that could not be transformed and was passed
// through unchanged.
type Warning struct {
	Kind      Kind
	Direction Direction
	Value     any
	Reason    string
}

func (w *Warning) Error() string {
	return fmt.Sprintf("%s %s transform of %v: %s", w.Direction, w.Kind, w.Value, w.Reason)
}

// inboundDateLayouts are tried in order when parsing external date strings.
var inboundDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// Apply converts value according to spec in the given direction. It never
// fails: on a conversion problem it returns value unchanged and a warning.
func Apply(value any, spec Spec, dir Direction) (any, *Warning) {
	switch spec.Kind {
	case KindNone:
		return value, nil
	case KindUppercase:
		return mapString(value, spec, dir, strings.ToUpper)
	case KindLowercase:
		return mapString(value, spec, dir, strings.ToLower)
	case KindTrim:
		return mapString(value, spec, dir, strings.TrimSpace)
	case KindDateFormat:
		if dir == Inbound {
			return parseDate(value, spec)
		}
		return formatDate(value, spec)
	case KindLookup:
		return lookup(value, spec, dir), nil
	case KindConcat:
		if dir == Inbound || value == nil || spec.Concat == nil {
			return value, nil
		}
		return spec.Concat.Prefix + toString(value) + spec.Concat.Suffix, nil
	case KindSplit:
		if dir == Inbound {
			return value, nil
		}
		return split(value, spec)
	case KindDefault:
		if value == nil && spec.Default != nil {
			return spec.Default.Value, nil
		}
		return value, nil
	case KindBoolean:
		if dir == Inbound {
			return parseBool(value, spec), nil
		}
		return formatBool(value, spec)
	default:
		return value, warn(value, spec, dir, "unknown transformation kind")
	}
}

func warn(value any, spec Spec, dir Direction, reason string) *Warning {
	return &Warning{Kind: spec.Kind, Direction: dir, Value: value, Reason: reason}
}

func mapString(value any, spec Spec, dir Direction, fn func(string) string) (any, *Warning) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return fn(v), nil
	default:
		return value, warn(value, spec, dir, fmt.Sprintf("expected string, got %T", value))
	}
}

func formatDate(value any, spec Spec) (any, *Warning) {
	if value == nil {
		return nil, nil
	}
	if spec.DateFormat == nil || spec.DateFormat.Layout == "" {
		return value, warn(value, spec, Outbound, "no layout configured")
	}

	var t time.Time
	switch v := value.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		t = *v
	case string:
		parsed, ok := parseTime(v)
		if !ok {
			return value, warn(value, spec, Outbound, "unparseable date")
		}
		t = parsed
	default:
		return value, warn(value, spec, Outbound, fmt.Sprintf("expected date, got %T", value))
	}
	return t.Format(spec.DateFormat.Layout), nil
}

func parseDate(value any, spec Spec) (any, *Warning) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v, nil
	case string:
		if t, ok := parseTime(v); ok {
			return t, nil
		}
		return value, warn(value, spec, Inbound, "unparseable date")
	default:
		return value, warn(value, spec, Inbound, fmt.Sprintf("expected date string, got %T", value))
	}
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range inboundDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func lookup(value any, spec Spec, dir Direction) any {
	if value == nil || spec.Lookup == nil {
		return value
	}
	key := toString(value)
	for _, e := range spec.Lookup.Entries {
		if dir == Outbound && e.Internal == key {
			return e.External
		}
		if dir == Inbound && e.External == key {
			return e.Internal
		}
	}
	return value
}

func split(value any, spec Spec) (any, *Warning) {
	if value == nil || spec.Split == nil {
		return value, nil
	}
	s, ok := value.(string)
	if !ok {
		return value, warn(value, spec, Outbound, fmt.Sprintf("expected string, got %T", value))
	}
	parts := strings.Split(s, spec.Split.Delimiter)
	if spec.Split.Index < 0 || spec.Split.Index >= len(parts) {
		return value, nil
	}
	return parts[spec.Split.Index], nil
}

func formatBool(value any, spec Spec) (any, *Warning) {
	var b bool
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		b = v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return value, warn(value, spec, Outbound, "not a boolean")
		}
		b = parsed
	default:
		return value, warn(value, spec, Outbound, fmt.Sprintf("expected bool, got %T", value))
	}

	if spec.Boolean == nil || (spec.Boolean.TrueValue == "" && spec.Boolean.FalseValue == "") {
		return b, nil
	}
	if b {
		return spec.Boolean.TrueValue, nil
	}
	return spec.Boolean.FalseValue, nil
}

func parseBool(value any, spec Spec) any {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		return v
	}
	s := strings.TrimSpace(toString(value))
	if spec.Boolean != nil && spec.Boolean.TrueValue != "" && strings.EqualFold(s, spec.Boolean.TrueValue) {
		return true
	}
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
