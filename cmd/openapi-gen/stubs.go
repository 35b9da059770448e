// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"context"

	"github.com/sgreports-dev/sgreports/internal/store"
)

// No-op stores for spec generation. Methods are never called.

type noDocuments struct{}

func (noDocuments) GetDocument(context.Context, string) (*store.Document, error) { return nil, nil }

type noQueries struct{}

func (noQueries) Query(context.Context, string) (*store.QueryResult, error) { return nil, nil }
