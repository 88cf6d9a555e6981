// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package mapping

import (
	"fmt"
	"strings"

	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/validation"
)

// ProviderSupport reports whether a provider type has an implementation.
type ProviderSupport interface {
	IsSupported(models.ProviderType) bool
}

// ConfigError lists every problem found in a snapshot.
type ConfigError struct {
	ConnectionID string
	Problems     []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("connection %s: %s", e.ConnectionID, strings.Join(e.Problems, "; "))
}

// Unwrap lets callers match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks a snapshot before any record is touched. It returns nil or
// a *ConfigError.
func Validate(snap *Snapshot, registry *entity.Registry, providers ProviderSupport) error {
	v := &validator{registry: registry}
	conn := snap.Connection

	v.structure("connection", &conn)
	if providers != nil && !providers.IsSupported(conn.Provider) {
		v.addf("provider %q is not supported", conn.Provider)
	}

	seen := make(map[string]string)
	for _, set := range snap.Sets {
		em := set.Entity
		v.structure("entity mapping "+em.ID, &em)

		key := em.ExternalEntity + "|" + string(em.InternalType)
		if other, dup := seen[key]; dup {
			v.addf("entity mappings %s and %s both map %s to %s", other, em.ID, em.ExternalEntity, em.InternalType)
		}
		seen[key] = em.ID

		if em.Direction.Valid() && !conn.Direction.Includes(em.Direction) {
			v.addf("entity mapping %s direction %s exceeds connection direction %s", em.ID, em.Direction, conn.Direction)
		}
		if em.IdentityField != "" && !registry.HasField(em.InternalType, em.IdentityField) {
			v.addf("entity mapping %s identity field %q does not exist on %s", em.ID, em.IdentityField, em.InternalType)
		}

		for i := range set.Fields {
			v.field(&em, &set.Fields[i])
		}
		for i := range set.Relationships {
			v.relationship(snap, &em, &set.Relationships[i])
		}
	}

	if len(v.problems) == 0 {
		return nil
	}
	return &ConfigError{ConnectionID: conn.ID, Problems: v.problems}
}

type validator struct {
	registry *entity.Registry
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) structure(label string, s any) {
	if err := validation.ValidateStruct(s); err != nil {
		v.addf("%s: %v", label, err)
	}
}

func (v *validator) field(em *models.EntityMapping, fm *models.FieldMapping) {
	v.structure("field mapping "+fm.ID, fm)
	if fm.Direction.Valid() && !em.Direction.Includes(fm.Direction) {
		v.addf("field mapping %s direction %s exceeds entity mapping direction %s", fm.ID, fm.Direction, em.Direction)
	}
	if fm.InternalField != "" && !v.registry.HasField(em.InternalType, fm.InternalField) {
		v.addf("field mapping %s: %s has no field %q", fm.ID, em.InternalType, fm.InternalField)
	}
	if err := fm.Transform.Validate(); err != nil {
		v.addf("field mapping %s: %v", fm.ID, err)
	}
}

func (v *validator) relationship(snap *Snapshot, em *models.EntityMapping, rm *models.RelationshipMapping) {
	v.structure("relationship mapping "+rm.ID, rm)
	if rm.Direction.Valid() && !em.Direction.Includes(rm.Direction) {
		v.addf("relationship mapping %s direction %s exceeds entity mapping direction %s", rm.ID, rm.Direction, em.Direction)
	}
	if rm.InternalField != "" && !v.registry.HasField(em.InternalType, rm.InternalField) {
		v.addf("relationship mapping %s: %s has no field %q", rm.ID, em.InternalType, rm.InternalField)
	}
	if rm.AutoCreateRelated {
		if _, ok := snap.ForRelated(rm.RelatedExternalEntity, rm.RelatedInternalType); !ok {
			v.addf("relationship mapping %s auto-creates %s but no enabled mapping pairs it with %s",
				rm.ID, rm.RelatedExternalEntity, rm.RelatedInternalType)
		}
	}
}
