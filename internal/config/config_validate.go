// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package config

import (
	"fmt"

	"github.com/tomtom215/crmsync/internal/validation"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{}
	}{
		{"server", &c.Server},
		{"database", &c.Database},
		{"sync", &c.Sync},
		{"breaker", &c.Breaker},
		{"lock", &c.Lock},
		{"progress", &c.Progress},
		{"nats", &c.NATS},
		{"hubspot", &c.HubSpot},
		{"logging", &c.Logging},
	}
	for _, s := range sections {
		if err := validation.ValidateStruct(s.v); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	if err := c.validateLock(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	return c.validateHubSpot()
}

// validateLock checks the settings the chosen backend needs.
func (c *Config) validateLock() error {
	switch c.Lock.Backend {
	case LockBackendBadger:
		if c.Lock.Path == "" {
			return fmt.Errorf("LOCK_PATH is required when LOCK_BACKEND=badger")
		}
	case LockBackendNATS:
		if c.Lock.Bucket == "" {
			return fmt.Errorf("LOCK_BUCKET is required when LOCK_BACKEND=nats")
		}
		if err := validateNATSURL(c.Lock.NATSURL); err != nil {
			return fmt.Errorf("LOCK_NATS_URL is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateProgress() error {
	if c.Progress.Transport != ProgressTransportNATS {
		return nil
	}
	if err := validateNATSURL(c.Progress.NATSURL); err != nil {
		return fmt.Errorf("PROGRESS_NATS_URL is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Embedded {
		return nil
	}
	if c.NATS.StoreDir == "" {
		return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
	}
	if !c.UsesNATS() {
		return fmt.Errorf("NATS_EMBEDDED=true needs LOCK_BACKEND=nats or PROGRESS_TRANSPORT=nats")
	}
	return nil
}

func (c *Config) validateHubSpot() error {
	if c.HubSpot.BaseURL == "" {
		return nil
	}
	if err := validateHTTPURL(c.HubSpot.BaseURL, "HUBSPOT_BASE_URL"); err != nil {
		return fmt.Errorf("HUBSPOT_BASE_URL is invalid: %w", err)
	}
	return nil
}

// SharesBadgerPath reports whether the lock and the progress store are
// configured on the same Badger directory, which must then be opened once.
func (c *Config) SharesBadgerPath() bool {
	return c.Lock.Backend == LockBackendBadger && c.Lock.Path != "" && c.Lock.Path == c.Progress.Path
}
