// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

//go:build !nats

package main

import (
	"context"
	"errors"

	"github.com/tomtom215/crmsync/internal/config"
	"github.com/tomtom215/crmsync/internal/lock"
)

var errNATSNotCompiled = errors.New("NATS support not compiled: build with -tags nats")

// NATSComponents is empty without the nats build tag.
type NATSComponents struct{}

// InitNATS fails if anything is configured to use NATS.
func InitNATS(cfg *config.Config) (*NATSComponents, error) {
	if cfg.UsesNATS() || cfg.NATS.Embedded {
		return nil, errNATSNotCompiled
	}
	return nil, nil
}

func (c *NATSComponents) ClientURL(fallback string) string { return fallback }

func (c *NATSComponents) NewLocker(context.Context, *config.Config) (lock.Locker, error) {
	return nil, errNATSNotCompiled
}

func (c *NATSComponents) Shutdown(context.Context) {}
