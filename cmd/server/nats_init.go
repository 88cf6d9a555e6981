// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

//go:build nats

package main

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/crmsync/internal/config"
	"github.com/tomtom215/crmsync/internal/lock"
	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/natsserver"
)

// NATSComponents holds the embedded server, when one runs, and the
// connection the lock backend uses.
type NATSComponents struct {
	server *natsserver.Server
	conn   *natsgo.Conn
}

// InitNATS starts the embedded server if configured. It returns nil when
// nothing is configured to use NATS.
func InitNATS(cfg *config.Config) (*NATSComponents, error) {
	if !cfg.UsesNATS() {
		return nil, nil
	}

	c := &NATSComponents{}
	if cfg.NATS.Embedded {
		srv, err := natsserver.Start(natsserver.Config{
			Host:              cfg.NATS.Host,
			Port:              cfg.NATS.Port,
			StoreDir:          cfg.NATS.StoreDir,
			JetStreamMaxMem:   cfg.NATS.JetStreamMaxMem,
			JetStreamMaxStore: cfg.NATS.JetStreamMaxStore,
		})
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		c.server = srv
	}
	return c, nil
}

// ClientURL returns the embedded server's URL, or fallback when NATS is
// external.
func (c *NATSComponents) ClientURL(fallback string) string {
	if c == nil || c.server == nil {
		return fallback
	}
	return c.server.ClientURL()
}

// NewLocker connects to NATS and opens the JetStream lock bucket.
func (c *NATSComponents) NewLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if c == nil {
		return nil, fmt.Errorf("nats lock backend selected but NATS is not initialized")
	}
	url := c.ClientURL(cfg.Lock.NATSURL)
	nc, err := natsgo.Connect(url,
		natsgo.Name("crmsync-locks"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	c.conn = nc

	locker, err := lock.NewNATSLocker(ctx, nc, cfg.Lock.Bucket, cfg.Lock.TTL)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("url", url).Str("bucket", cfg.Lock.Bucket).Msg("NATS lock backend ready")
	return locker, nil
}

// Shutdown drains the connection, then stops the embedded server.
func (c *NATSComponents) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			logging.Warn().Err(err).Msg("Error draining NATS connection")
		}
	}
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Error stopping embedded NATS server")
		}
	}
}
