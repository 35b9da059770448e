// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package tools

import (
	"fmt"
	"strings"
)

// Tool names.
const (
	ReadDocument  = "read_document"
	QueryDatabase = "query_database"
)

func readDocumentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"symbol": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "The UN document symbol, for example S/2024/123 or A/79/1.",
			},
		},
		"required":             []any{"symbol"},
		"additionalProperties": false,
	}
}

func queryDatabaseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "A single read-only SELECT statement.",
			},
			"explanation": map[string]any{
				"type":        "string",
				"description": "One sentence on what the query is meant to find.",
			},
		},
		"required":             []any{"query"},
		"additionalProperties": false,
	}
}

const readDocumentDescription = "Fetch the full metadata and body text of a single report by its document symbol. " +
	"Use this after finding a symbol with query_database when the user needs the report's content."

func queryDatabaseDescription(allowed []string, rowLimit int) string {
	return fmt.Sprintf("Run a read-only SQL SELECT against the reports database. "+
		"Only these tables may be referenced: %s. Results are capped at %d rows; add your own LIMIT for smaller samples.",
		strings.Join(allowed, ", "), rowLimit)
}
