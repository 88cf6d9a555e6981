// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

// Package entity provides typed field access to internal business entities
// and the store contract the sync engine reads and writes them through.
//
// Field mappings address internal fields by name ("email", "company_id").
// Each entity type registers a Schema holding a getter/setter closure per
// field, plus accessors for the dynamic custom-fields bag addressed as
// "custom_fields.<key>". Unknown names fail loudly with ErrUnknownField.
package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/crmsync/internal/models"
)

// CustomFieldsPrefix addresses a key inside an entity's custom-fields bag.
const CustomFieldsPrefix = "custom_fields."

var (
	// ErrUnknownType is returned for an entity type with no registered schema.
	ErrUnknownType = errors.New("unknown entity type")

	// ErrUnknownField is returned for a field path the schema does not define.
	ErrUnknownField = errors.New("unknown field")

	// ErrReadOnlyField is returned when setting a field that has no setter.
	ErrReadOnlyField = errors.New("read-only field")

	// ErrTypeMismatch is returned when a value cannot be coerced to a field's type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("entity not found")
)

// Record is an internal entity instance.
type Record interface {
	EntityID() string
	EntityType() models.EntityType
	Modified() time.Time
}

// Accessor reads and writes one field. A nil Set marks the field read-only.
type Accessor struct {
	Get func(Record) any
	Set func(Record, any) error
}

// Schema is the accessor table for one entity type.
type Schema struct {
	Type models.EntityType

	// New returns an empty record of this type.
	New func() Record

	// Clone returns a deep copy of rec.
	Clone func(Record) Record

	// SetID and Touch maintain the record's identity and update time.
	SetID func(Record, string)
	Touch func(Record, time.Time)

	// Custom returns the record's custom-fields bag, creating it when create is set.
	Custom func(rec Record, create bool) map[string]any

	// IdentityField is the default duplicate-detection key.
	IdentityField string

	Fields map[string]Accessor
}

// Registry maps entity types to their schemas. It is read-only after construction.
type Registry struct {
	schemas map[models.EntityType]*Schema
}

// NewRegistry returns a registry populated with the user, company and
// location schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[models.EntityType]*Schema)}
	for _, s := range []*Schema{userSchema(), companySchema(), locationSchema()} {
		r.schemas[s.Type] = s
	}
	return r
}

// Schema returns the schema for t.
func (r *Registry) Schema(t models.EntityType) (*Schema, error) {
	s, ok := r.schemas[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return s, nil
}

// New returns an empty record of type t.
func (r *Registry) New(t models.EntityType) (Record, error) {
	s, err := r.Schema(t)
	if err != nil {
		return nil, err
	}
	return s.New(), nil
}

// HasField reports whether path is addressable on type t.
func (r *Registry) HasField(t models.EntityType, path string) bool {
	s, ok := r.schemas[t]
	if !ok {
		return false
	}
	if key, ok := customKey(path); ok {
		return key != "" && s.Custom != nil
	}
	_, ok = s.Fields[normalizePath(path)]
	return ok
}

// Get reads the field at path from rec. Missing custom-field keys read as nil.
func (r *Registry) Get(rec Record, path string) (any, error) {
	s, err := r.Schema(rec.EntityType())
	if err != nil {
		return nil, err
	}
	if key, ok := customKey(path); ok {
		if key == "" || s.Custom == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Type, path)
		}
		return s.Custom(rec, false)[key], nil
	}
	acc, ok := s.Fields[normalizePath(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Type, path)
	}
	return acc.Get(rec), nil
}

// Set writes v into the field at path on rec, coercing it to the field's type.
func (r *Registry) Set(rec Record, path string, v any) error {
	s, err := r.Schema(rec.EntityType())
	if err != nil {
		return err
	}
	if key, ok := customKey(path); ok {
		if key == "" || s.Custom == nil {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Type, path)
		}
		bag := s.Custom(rec, true)
		if v == nil {
			delete(bag, key)
		} else {
			bag[key] = v
		}
		return nil
	}
	acc, ok := s.Fields[normalizePath(path)]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Type, path)
	}
	if acc.Set == nil {
		return fmt.Errorf("%w: %s.%s", ErrReadOnlyField, s.Type, path)
	}
	if err := acc.Set(rec, v); err != nil {
		return fmt.Errorf("%s.%s: %w", s.Type, path, err)
	}
	return nil
}

// Clone deep-copies rec.
func (r *Registry) Clone(rec Record) Record {
	s, err := r.Schema(rec.EntityType())
	if err != nil {
		return rec
	}
	return s.Clone(rec)
}

// SamePath reports whether two field paths address the same field.
func (r *Registry) SamePath(a, b string) bool {
	ka, customA := customKey(a)
	kb, customB := customKey(b)
	if customA || customB {
		return customA && customB && ka == kb
	}
	return normalizePath(a) == normalizePath(b)
}

// IdentityField returns the duplicate-detection field for t.
func (r *Registry) IdentityField(t models.EntityType) string {
	if s, ok := r.schemas[t]; ok {
		return s.IdentityField
	}
	return ""
}

func customKey(path string) (string, bool) {
	lower := strings.ToLower(path)
	for _, prefix := range []string{CustomFieldsPrefix, "customfields."} {
		if strings.HasPrefix(lower, prefix) {
			return path[len(prefix):], true
		}
	}
	return "", false
}

// normalizePath folds "FirstName", "firstName" and "first_name" to the same key.
func normalizePath(path string) string {
	var b strings.Builder
	for i, r := range path {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && isLowerOrDigit(path[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func copyBag(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func isLowerOrDigit(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
