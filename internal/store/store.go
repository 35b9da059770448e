// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package store

import (
	"context"
	"errors"
)

// DocumentReader looks up report documents by symbol. Implementations use
// the privileged connection.
type DocumentReader interface {
	// GetDocument returns ErrNotFound when no document has the symbol.
	GetDocument(ctx context.Context, symbol string) (*Document, error)
}

// QueryRunner executes model-authored SELECT statements on the restricted
// read-only connection. Callers must validate the statement first.
type QueryRunner interface {
	Query(ctx context.Context, query string) (*QueryResult, error)
}

// InteractionStore persists one audit row per (session, interaction index).
type InteractionStore interface {
	SaveInteraction(ctx context.Context, rec *InteractionRecord) error
}

// GrantChecker reports the table privileges held by the restricted role.
type GrantChecker interface {
	TableGrants(ctx context.Context) ([]TableGrant, error)
}

// Stores bundles everything a backend provides. Grants is nil for backends
// without a role model.
type Stores struct {
	Documents    DocumentReader
	Queries      QueryRunner
	Interactions InteractionStore
	Grants       GrantChecker

	pinger  func(ctx context.Context) error
	closers []func() error
}

// NewStores assembles a bundle. ping checks every underlying pool and
// closers run in order on Close.
func NewStores(docs DocumentReader, queries QueryRunner, interactions InteractionStore, grants GrantChecker, ping func(ctx context.Context) error, closers ...func() error) *Stores {
	return &Stores{
		Documents:    docs,
		Queries:      queries,
		Interactions: interactions,
		Grants:       grants,
		pinger:       ping,
		closers:      closers,
	}
}

// Ping reports whether the backing databases are reachable.
func (s *Stores) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger(ctx)
}

// Close releases every pool held by the bundle.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
