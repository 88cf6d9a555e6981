// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package natsserver runs an embedded NATS server with JetStream for
single-instance deployments that use the nats lock backend or the nats
progress transport without an external cluster.

The real server is compiled only with -tags=nats. Without the tag, Start
returns ErrUnavailable.

Usage:

	srv, err := natsserver.Start(natsserver.Config{
	    Host:     "127.0.0.1",
	    Port:     4222,
	    StoreDir: "/data/nats",
	})
	if err != nil {
	    return err
	}
	defer srv.Shutdown(context.Background())

	locker, err := lock.NewNATSLocker(ctx, nc, "crmsync-locks", ttl) // nc dialled at srv.ClientURL()
*/
package natsserver
