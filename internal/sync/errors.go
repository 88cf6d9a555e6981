// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/ledger"
	"github.com/tomtom215/crmsync/internal/lock"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/provider"
)

var (
	// ErrConnectionBusy is reported when another run holds the connection.
	ErrConnectionBusy = errors.New("connection already has a sync in progress")

	// ErrInvalidArgument is returned directly by entry points given empty ids.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMappingNotFound is reported when a run targets an unknown or disabled mapping.
	ErrMappingNotFound = errors.New("no enabled entity mapping")

	// ErrMissingRequired is a record-level failure for a required field with no value.
	ErrMissingRequired = errors.New("required field has no value")
)

// ErrorKind classifies run and record failures.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindValidation     ErrorKind = "validation"
	KindTransformation ErrorKind = "transformation"
	KindProvider       ErrorKind = "provider"
	KindPersistence    ErrorKind = "persistence"
	KindCancelled      ErrorKind = "cancelled"
	KindBusy           ErrorKind = "busy"
)

// RunError is a classified failure carried in a Result.
type RunError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *RunError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func newRunError(kind ErrorKind, msg string, err error) *RunError {
	return &RunError{Kind: kind, Message: msg, Err: err}
}

// classify maps an error from a collaborator onto the failure taxonomy.
func classify(err error) ErrorKind {
	var re *RunError
	switch {
	case errors.As(err, &re):
		return re.Kind
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrConnectionBusy), errors.Is(err, lock.ErrLocked):
		return KindBusy
	case errors.Is(err, provider.ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, mapping.ErrInvalidConfig), errors.Is(err, ErrMappingNotFound),
		errors.Is(err, mapping.ErrConnectionNotFound), errors.Is(err, mapping.ErrMappingNotFound),
		errors.Is(err, provider.ErrProviderNotSupported),
		errors.Is(err, ErrMissingRequired), errors.Is(err, entity.ErrUnknownField),
		errors.Is(err, entity.ErrReadOnlyField), errors.Is(err, entity.ErrTypeMismatch):
		return KindValidation
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, entity.ErrNotFound):
		return KindPersistence
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return KindProvider
	}
	return KindPersistence
}

// toRunError wraps err in a RunError unless it already is one.
func toRunError(msg string, err error) *RunError {
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	return newRunError(classify(err), msg, err)
}
