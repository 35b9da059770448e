// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package store

import "time"

// DefaultStatementTimeout bounds a restricted query when none is configured.
const DefaultStatementTimeout = 15 * time.Second

// Config controls which backend the store factory opens and how.
type Config struct {
	Backend string // "postgres" or "sqlite"; empty means "sqlite".

	// DocumentsDSN is the privileged connection used for document lookups
	// and interaction writes.
	DocumentsDSN string
	// QueryDSN is the restricted read-only connection used for
	// model-authored queries.
	QueryDSN string

	Schema           string
	StatementTimeout time.Duration
	MaxOpenConns     int
}

// Timeout returns the effective statement timeout.
func (c Config) Timeout() time.Duration {
	if c.StatementTimeout <= 0 {
		return DefaultStatementTimeout
	}
	return c.StatementTimeout
}
