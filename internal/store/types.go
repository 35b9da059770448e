// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package store

import "time"

// Document is one row of the documents table as exposed to the model.
type Document struct {
	Symbol          string
	ProperTitle     string
	Title           string
	UNBody          string
	DateYear        *int
	PublicationDate string
	SubjectTerms    []string
	AgendaItemTitle string
	WordCount       *int
	Text            *string
}

// QueryResult holds the rows of a restricted query keyed by column name.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// RowCount returns the number of rows returned.
func (r *QueryResult) RowCount() int {
	return len(r.Rows)
}

// ToolCallLog records one tool invocation inside an interaction.
type ToolCallLog struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Arguments  string    `json:"arguments"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	Success    bool      `json:"success"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// InteractionRecord is the audit row for one user turn.
type InteractionRecord struct {
	ID                 string
	SessionID          string
	UserID             string
	InteractionIndex   int
	Model              string
	UserMessage        string
	UserMessageAt      time.Time
	AssistantMessage   string
	AssistantMessageAt *time.Time
	ToolCalls          []ToolCallLog
	ElapsedMS          int64
	ModelCalls         int
	InputTokens        int
	OutputTokens       int
	Completed          bool
	Error              string
}

// TableGrant is one privilege held by the restricted role.
type TableGrant struct {
	Schema    string
	Table     string
	Privilege string
}
