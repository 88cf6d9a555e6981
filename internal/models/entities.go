// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package models

import "time"

// User is an internal user account.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	FirstName    string         `json:"first_name"`
	LastName     string         `json:"last_name"`
	Phone        string         `json:"phone"`
	JobTitle     string         `json:"job_title"`
	CompanyID    string         `json:"company_id"`
	Active       bool           `json:"active"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Company is an internal company (tenant customer organisation).
type Company struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Domain       string         `json:"domain"`
	Phone        string         `json:"phone"`
	Industry     string         `json:"industry"`
	Employees    int            `json:"employees"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Location is a physical site belonging to a company.
type Location struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Address      string         `json:"address"`
	City         string         `json:"city"`
	Country      string         `json:"country"`
	PostalCode   string         `json:"postal_code"`
	CompanyID    string         `json:"company_id"`
	OpenedAt     *time.Time     `json:"opened_at,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// EntityID returns the user's id.
func (u *User) EntityID() string { return u.ID }

// EntityType returns EntityUser.
func (u *User) EntityType() EntityType { return EntityUser }

// Modified returns the last update time.
func (u *User) Modified() time.Time { return u.UpdatedAt }

// EntityID returns the company's id.
func (c *Company) EntityID() string { return c.ID }

// EntityType returns EntityCompany.
func (c *Company) EntityType() EntityType { return EntityCompany }

// Modified returns the last update time.
func (c *Company) Modified() time.Time { return c.UpdatedAt }

// EntityID returns the location's id.
func (l *Location) EntityID() string { return l.ID }

// EntityType returns EntityLocation.
func (l *Location) EntityType() EntityType { return EntityLocation }

// Modified returns the last update time.
func (l *Location) Modified() time.Time { return l.UpdatedAt }
