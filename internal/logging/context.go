// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	syncIDKey        contextKey = "sync_id"
	connectionIDKey  contextKey = "connection_id"
)

// GenerateCorrelationID creates a new short correlation ID.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a new context with the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithSync tags a context with the sync run and connection it belongs to.
func ContextWithSync(ctx context.Context, syncID, connectionID string) context.Context {
	ctx = context.WithValue(ctx, syncIDKey, syncID)
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// SyncIDFromContext retrieves the sync id from context.
func SyncIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(syncIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger with sync_id, connection_id and
// correlation_id added from the context when present.
//
//	logging.Ctx(ctx).Info().Msg("Fetching records")
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := Logger().With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	if id := SyncIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("sync_id", id)
	}
	if id, ok := ctx.Value(connectionIDKey).(string); ok && id != "" {
		logCtx = logCtx.Str("connection_id", id)
	}
	l := logCtx.Logger()
	return &l
}
