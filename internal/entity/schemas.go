// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package entity

import (
	"time"

	"github.com/tomtom215/crmsync/internal/models"
)

func stringField(get func(Record) *string) Accessor {
	return Accessor{
		Get: func(r Record) any { return *get(r) },
		Set: func(r Record, v any) error {
			s, err := toString(v)
			if err != nil {
				return err
			}
			*get(r) = s
			return nil
		},
	}
}

func readOnlyString(get func(Record) string) Accessor {
	return Accessor{Get: func(r Record) any { return get(r) }}
}

func userSchema() *Schema {
	u := func(r Record) *models.User { return r.(*models.User) }
	return &Schema{
		Type: models.EntityUser,
		New:  func() Record { return &models.User{} },
		Clone: func(r Record) Record {
			c := *u(r)
			c.CustomFields = copyBag(c.CustomFields)
			return &c
		},
		SetID: func(r Record, id string) { u(r).ID = id },
		Touch: func(r Record, t time.Time) { u(r).UpdatedAt = t },
		Custom: func(r Record, create bool) map[string]any {
			if u(r).CustomFields == nil && create {
				u(r).CustomFields = make(map[string]any)
			}
			return u(r).CustomFields
		},
		IdentityField: "email",
		Fields: map[string]Accessor{
			"id":         readOnlyString(func(r Record) string { return u(r).ID }),
			"email":      stringField(func(r Record) *string { return &u(r).Email }),
			"first_name": stringField(func(r Record) *string { return &u(r).FirstName }),
			"last_name":  stringField(func(r Record) *string { return &u(r).LastName }),
			"phone":      stringField(func(r Record) *string { return &u(r).Phone }),
			"job_title":  stringField(func(r Record) *string { return &u(r).JobTitle }),
			"company_id": stringField(func(r Record) *string { return &u(r).CompanyID }),
			"active": {
				Get: func(r Record) any { return u(r).Active },
				Set: func(r Record, v any) error {
					b, err := toBool(v)
					if err != nil {
						return err
					}
					u(r).Active = b
					return nil
				},
			},
		},
	}
}

func companySchema() *Schema {
	c := func(r Record) *models.Company { return r.(*models.Company) }
	return &Schema{
		Type: models.EntityCompany,
		New:  func() Record { return &models.Company{} },
		Clone: func(r Record) Record {
			cp := *c(r)
			cp.CustomFields = copyBag(cp.CustomFields)
			return &cp
		},
		SetID: func(r Record, id string) { c(r).ID = id },
		Touch: func(r Record, t time.Time) { c(r).UpdatedAt = t },
		Custom: func(r Record, create bool) map[string]any {
			if c(r).CustomFields == nil && create {
				c(r).CustomFields = make(map[string]any)
			}
			return c(r).CustomFields
		},
		IdentityField: "domain",
		Fields: map[string]Accessor{
			"id":       readOnlyString(func(r Record) string { return c(r).ID }),
			"name":     stringField(func(r Record) *string { return &c(r).Name }),
			"domain":   stringField(func(r Record) *string { return &c(r).Domain }),
			"phone":    stringField(func(r Record) *string { return &c(r).Phone }),
			"industry": stringField(func(r Record) *string { return &c(r).Industry }),
			"employees": {
				Get: func(r Record) any { return c(r).Employees },
				Set: func(r Record, v any) error {
					n, err := toInt(v)
					if err != nil {
						return err
					}
					c(r).Employees = n
					return nil
				},
			},
		},
	}
}

func locationSchema() *Schema {
	l := func(r Record) *models.Location { return r.(*models.Location) }
	return &Schema{
		Type: models.EntityLocation,
		New:  func() Record { return &models.Location{} },
		Clone: func(r Record) Record {
			cp := *l(r)
			cp.CustomFields = copyBag(cp.CustomFields)
			if cp.OpenedAt != nil {
				t := *cp.OpenedAt
				cp.OpenedAt = &t
			}
			return &cp
		},
		SetID: func(r Record, id string) { l(r).ID = id },
		Touch: func(r Record, t time.Time) { l(r).UpdatedAt = t },
		Custom: func(r Record, create bool) map[string]any {
			if l(r).CustomFields == nil && create {
				l(r).CustomFields = make(map[string]any)
			}
			return l(r).CustomFields
		},
		IdentityField: "name",
		Fields: map[string]Accessor{
			"id":          readOnlyString(func(r Record) string { return l(r).ID }),
			"name":        stringField(func(r Record) *string { return &l(r).Name }),
			"address":     stringField(func(r Record) *string { return &l(r).Address }),
			"city":        stringField(func(r Record) *string { return &l(r).City }),
			"country":     stringField(func(r Record) *string { return &l(r).Country }),
			"postal_code": stringField(func(r Record) *string { return &l(r).PostalCode }),
			"company_id":  stringField(func(r Record) *string { return &l(r).CompanyID }),
			"opened_at": {
				Get: func(r Record) any {
					if l(r).OpenedAt == nil {
						return nil
					}
					return *l(r).OpenedAt
				},
				Set: func(r Record, v any) error {
					t, err := toTime(v)
					if err != nil {
						return err
					}
					l(r).OpenedAt = t
					return nil
				},
			},
		},
	}
}
