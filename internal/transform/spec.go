// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package transform

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Kind names a transformation.
type Kind string

// Supported transformation kinds.
const (
	KindNone       Kind = ""
	KindUppercase  Kind = "uppercase"
	KindLowercase  Kind = "lowercase"
	KindTrim       Kind = "trim"
	KindDateFormat Kind = "date_format"
	KindLookup     Kind = "lookup"
	KindConcat     Kind = "concat"
	KindSplit      Kind = "split"
	KindDefault    Kind = "default"
	KindBoolean    Kind = "boolean"
)

var (
	// ErrUnknownKind is returned when a stored transformation names no known kind.
	ErrUnknownKind = errors.New("unknown transformation kind")

	// ErrInvalidConfig is returned when a transformation config is missing or malformed.
	ErrInvalidConfig = errors.New("invalid transformation config")
)

// DateFormatConfig holds the Go time layout used when writing dates outbound.
type DateFormatConfig struct {
	Layout string `json:"layout"`
}

// LookupEntry is one internal -> external pair of a lookup table.
type LookupEntry struct {
	Internal string `json:"internal"`
	External string `json:"external"`
}

// LookupConfig is an ordered lookup table. Order decides the inbound tie-break.
type LookupConfig struct {
	Entries []LookupEntry `json:"entries"`
}

// ConcatConfig wraps outbound values with a prefix and suffix.
type ConcatConfig struct {
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`
}

// SplitConfig selects one element of a delimited outbound value.
type SplitConfig struct {
	Delimiter string `json:"delimiter"`
	Index     int    `json:"index"`
}

// DefaultConfig substitutes Value for nil in either direction.
type DefaultConfig struct {
	Value any `json:"value"`
}

// BooleanConfig maps booleans to string tokens. Empty tokens mean the
// boolean is written as-is.
type BooleanConfig struct {
	TrueValue  string `json:"true_value"`
	FalseValue string `json:"false_value"`
}

// Spec is a typed transformation: a Kind plus the single config variant that
// kind uses. Configs are decoded once when the mapping is loaded, never per
// value.
type Spec struct {
	Kind       Kind
	DateFormat *DateFormatConfig
	Lookup     *LookupConfig
	Concat     *ConcatConfig
	Split      *SplitConfig
	Default    *DefaultConfig
	Boolean    *BooleanConfig
}

// Uppercase returns an uppercase Spec.
func Uppercase() Spec { return Spec{Kind: KindUppercase} }

// Lowercase returns a lowercase Spec.
func Lowercase() Spec { return Spec{Kind: KindLowercase} }

// Trim returns a whitespace-trim Spec.
func Trim() Spec { return Spec{Kind: KindTrim} }

// DateFormat returns a Spec formatting outbound dates with layout.
func DateFormat(layout string) Spec {
	return Spec{Kind: KindDateFormat, DateFormat: &DateFormatConfig{Layout: layout}}
}

// Lookup returns a Spec over the given ordered entries.
func Lookup(entries ...LookupEntry) Spec {
	return Spec{Kind: KindLookup, Lookup: &LookupConfig{Entries: entries}}
}

// Concat returns a Spec wrapping outbound values.
func Concat(prefix, suffix string) Spec {
	return Spec{Kind: KindConcat, Concat: &ConcatConfig{Prefix: prefix, Suffix: suffix}}
}

// Split returns a Spec picking element index of a delimited value.
func Split(delimiter string, index int) Spec {
	return Spec{Kind: KindSplit, Split: &SplitConfig{Delimiter: delimiter, Index: index}}
}

// Default returns a Spec substituting value for nil.
func Default(value any) Spec {
	return Spec{Kind: KindDefault, Default: &DefaultConfig{Value: value}}
}

// Boolean returns a Spec mapping booleans to the given tokens.
func Boolean(trueValue, falseValue string) Spec {
	return Spec{Kind: KindBoolean, Boolean: &BooleanConfig{TrueValue: trueValue, FalseValue: falseValue}}
}

// IsZero reports whether the spec applies no transformation.
func (s Spec) IsZero() bool { return s.Kind == KindNone }

// Validate checks that the spec carries the config its kind needs.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindNone, KindUppercase, KindLowercase, KindTrim:
		return nil
	case KindDateFormat:
		if s.DateFormat == nil || s.DateFormat.Layout == "" {
			return fmt.Errorf("%w: date_format requires a layout", ErrInvalidConfig)
		}
	case KindLookup:
		if s.Lookup == nil || len(s.Lookup.Entries) == 0 {
			return fmt.Errorf("%w: lookup requires at least one entry", ErrInvalidConfig)
		}
	case KindConcat:
		if s.Concat == nil {
			return fmt.Errorf("%w: concat requires a config", ErrInvalidConfig)
		}
	case KindSplit:
		if s.Split == nil || s.Split.Delimiter == "" {
			return fmt.Errorf("%w: split requires a delimiter", ErrInvalidConfig)
		}
	case KindDefault:
		if s.Default == nil {
			return fmt.Errorf("%w: default requires a value", ErrInvalidConfig)
		}
	case KindBoolean:
		// Tokens are optional.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
	return nil
}

// ParseSpec decodes the stored (kind, config blob) pair of a field mapping
// into a typed Spec and validates it.
func ParseSpec(kind string, raw []byte) (Spec, error) {
	s := Spec{Kind: Kind(kind)}
	hasConfig := len(raw) > 0 && string(raw) != "null"

	var target any
	switch s.Kind {
	case KindNone, KindUppercase, KindLowercase, KindTrim:
	case KindDateFormat:
		s.DateFormat = &DateFormatConfig{}
		target = s.DateFormat
	case KindLookup:
		s.Lookup = &LookupConfig{}
		target = s.Lookup
	case KindConcat:
		s.Concat = &ConcatConfig{}
		target = s.Concat
	case KindSplit:
		s.Split = &SplitConfig{}
		target = s.Split
	case KindDefault:
		if !hasConfig {
			return Spec{}, fmt.Errorf("%w: default requires a value", ErrInvalidConfig)
		}
		s.Default = &DefaultConfig{}
		target = s.Default
	case KindBoolean:
		s.Boolean = &BooleanConfig{}
		target = s.Boolean
	default:
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if target != nil && hasConfig {
		if err := json.Unmarshal(raw, target); err != nil {
			return Spec{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, kind, err)
		}
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// Config returns the spec's config variant encoded as JSON, or nil when the
// kind has none.
func (s Spec) Config() ([]byte, error) {
	var cfg any
	switch s.Kind {
	case KindDateFormat:
		if s.DateFormat != nil {
			cfg = s.DateFormat
		}
	case KindLookup:
		if s.Lookup != nil {
			cfg = s.Lookup
		}
	case KindConcat:
		if s.Concat != nil {
			cfg = s.Concat
		}
	case KindSplit:
		if s.Split != nil {
			cfg = s.Split
		}
	case KindDefault:
		if s.Default != nil {
			cfg = s.Default
		}
	case KindBoolean:
		if s.Boolean != nil {
			cfg = s.Boolean
		}
	}
	if cfg == nil {
		return nil, nil
	}
	return json.Marshal(cfg)
}

type wireSpec struct {
	Kind   Kind            `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON encodes the spec as {"kind": ..., "config": {...}}.
func (s Spec) MarshalJSON() ([]byte, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireSpec{Kind: s.Kind, Config: cfg})
}

// UnmarshalJSON decodes the {"kind": ..., "config": {...}} form.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var w wireSpec
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := ParseSpec(string(w.Kind), w.Config)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
