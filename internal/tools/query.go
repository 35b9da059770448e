// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package tools

import (
	"context"

	"github.com/sgreports-dev/sgreports/internal/sqlguard"
)

// QueryPayload is the query_database result.
type QueryPayload struct {
	RowCount    int              `json:"row_count"`
	Rows        []map[string]any `json:"rows"`
	Explanation string           `json:"explanation"`
}

func (e *Executor) queryDatabase(ctx context.Context, args map[string]any) Result {
	query := stringArg(args, "query")
	explanation := stringArg(args, "explanation")

	if v := e.validator.Validate(query); !v.Allowed {
		return Failedf("%s. Please revise the query and try again.", v.Reason)
	}

	res, err := e.queries.Query(ctx, sqlguard.EnsureLimit(query, e.rowLimit))
	if err != nil {
		return Failedf("Query failed: %v. Query: %s", err, query)
	}

	rows := res.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return Succeeded(QueryPayload{
		RowCount:    len(rows),
		Rows:        rows,
		Explanation: explanation,
	})
}
