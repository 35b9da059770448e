// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package store

import "errors"

var (
	// ErrNotFound is returned by GetDocument for an unknown symbol.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput rejects interaction records without a session id or
	// with a negative index.
	ErrInvalidInput = errors.New("invalid input")
)
