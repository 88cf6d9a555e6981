// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package provider

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/tomtom215/crmsync/internal/models"
)

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

func drain(t *testing.T, it RecordIterator) []*models.ExternalRecord {
	t.Helper()
	var out []*models.ExternalRecord
	for {
		rec, err := it.Next(context.Background())
		if isEOF(err) {
			return out
		}
		if err != nil {
			t.Fatalf("iterator error: %v", err)
		}
		out = append(out, rec)
	}
}
