// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package sqlite is the development backend. A single database file serves
// both roles: a read-write handle for documents and interactions, and a
// second handle opened with mode=ro for model-authored queries.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sgreports-dev/sgreports/internal/store"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// Compile-time interface checks.
var (
	_ store.DocumentReader   = (*Store)(nil)
	_ store.QueryRunner      = (*Store)(nil)
	_ store.InteractionStore = (*Store)(nil)
)

func init() {
	store.RegisterBackend("sqlite", open)
}

func open(cfg store.Config) (*store.Stores, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewStores(s, s, s, nil, s.Ping, s.Close), nil
}

// Store implements the store interfaces on SQLite.
type Store struct {
	rw      *sql.DB
	ro      *sql.DB
	timeout time.Duration
}

// New opens (or creates) the database at cfg.DocumentsDSN, migrates it and
// opens the read-only query handle on cfg.QueryDSN, which defaults to the
// same file.
func New(cfg store.Config) (*Store, error) {
	path := strings.TrimPrefix(cfg.DocumentsDSN, "file:")
	if path == "" {
		return nil, sgerr.New(sgerr.CodeStoreInvalidInput, "sqlite: documents_dsn is required")
	}

	rw, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "opening sqlite db")
	}
	if err := rw.Ping(); err != nil {
		_ = rw.Close()
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}
	if err := migrate(rw); err != nil {
		_ = rw.Close()
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "migrating sqlite db")
	}

	queryPath := strings.TrimPrefix(cfg.QueryDSN, "file:")
	if queryPath == "" {
		queryPath = path
	}
	ro, err := sql.Open("sqlite3", "file:"+queryPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		_ = rw.Close()
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "opening read-only sqlite db")
	}
	if cfg.MaxOpenConns > 0 {
		ro.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return &Store{rw: rw, ro: ro, timeout: cfg.Timeout()}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	symbol            TEXT PRIMARY KEY,
	proper_title      TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	un_body           TEXT NOT NULL DEFAULT '',
	date_year         INTEGER,
	publication_date  TEXT NOT NULL DEFAULT '',
	subject_terms     TEXT NOT NULL DEFAULT '[]',
	agenda_item_title TEXT NOT NULL DEFAULT '',
	word_count        INTEGER,
	text              TEXT
);

CREATE TABLE IF NOT EXISTS chat_interactions (
	id                   TEXT NOT NULL,
	session_id           TEXT NOT NULL,
	user_id              TEXT NOT NULL DEFAULT '',
	interaction_index    INTEGER NOT NULL,
	model                TEXT NOT NULL DEFAULT '',
	user_message         TEXT NOT NULL DEFAULT '',
	user_message_at      TEXT NOT NULL,
	assistant_message    TEXT NOT NULL DEFAULT '',
	assistant_message_at TEXT,
	tool_calls           TEXT NOT NULL DEFAULT '[]',
	elapsed_ms           INTEGER NOT NULL DEFAULT 0,
	model_calls          INTEGER NOT NULL DEFAULT 0,
	input_tokens         INTEGER NOT NULL DEFAULT 0,
	output_tokens        INTEGER NOT NULL DEFAULT 0,
	completed            INTEGER NOT NULL DEFAULT 0,
	error                TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, interaction_index)
);
`
	_, err := db.Exec(ddl)
	return err
}

// GetDocument implements store.DocumentReader.
func (s *Store) GetDocument(ctx context.Context, symbol string) (*store.Document, error) {
	const q = `SELECT symbol, proper_title, title, un_body, date_year, publication_date,
	subject_terms, agenda_item_title, word_count, text
FROM documents WHERE symbol = ?`

	var (
		doc       store.Document
		year      sql.NullInt64
		words     sql.NullInt64
		text      sql.NullString
		termsJSON string
	)
	err := s.rw.QueryRowContext(ctx, q, symbol).Scan(
		&doc.Symbol, &doc.ProperTitle, &doc.Title, &doc.UNBody, &year, &doc.PublicationDate,
		&termsJSON, &doc.AgendaItemTitle, &words, &text,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", symbol, store.ErrNotFound)
	}
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "querying document", sgerr.FieldSymbol(symbol))
	}

	if termsJSON != "" {
		if err := json.Unmarshal([]byte(termsJSON), &doc.SubjectTerms); err != nil {
			return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "decoding subject_terms", sgerr.FieldSymbol(symbol))
		}
	}
	if year.Valid {
		y := int(year.Int64)
		doc.DateYear = &y
	}
	if words.Valid {
		w := int(words.Int64)
		doc.WordCount = &w
	}
	if text.Valid {
		doc.Text = &text.String
	}
	return &doc, nil
}

// Query implements store.QueryRunner on the read-only handle. SQLite has no
// statement timeout, so the deadline is applied through the context.
func (s *Store) Query(ctx context.Context, query string) (*store.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.ro.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return store.ScanRows(rows)
}

// SaveInteraction implements store.InteractionStore.
func (s *Store) SaveInteraction(ctx context.Context, rec *store.InteractionRecord) error {
	if rec == nil || rec.SessionID == "" {
		return fmt.Errorf("saving interaction: %w", store.ErrInvalidInput)
	}

	calls, err := json.Marshal(rec.ToolCalls)
	if err != nil {
		return sgerr.Wrap(err, sgerr.CodeStoreInteractionWriteFailed, "encoding tool calls")
	}
	var assistantAt any
	if rec.AssistantMessageAt != nil {
		assistantAt = rec.AssistantMessageAt.UTC().Format(time.RFC3339Nano)
	}

	const q = `INSERT INTO chat_interactions (
	id, session_id, user_id, interaction_index, model, user_message, user_message_at,
	assistant_message, assistant_message_at, tool_calls, elapsed_ms, model_calls,
	input_tokens, output_tokens, completed, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id, interaction_index) DO UPDATE SET
	id = excluded.id,
	user_id = excluded.user_id,
	model = excluded.model,
	user_message = excluded.user_message,
	user_message_at = excluded.user_message_at,
	assistant_message = excluded.assistant_message,
	assistant_message_at = excluded.assistant_message_at,
	tool_calls = excluded.tool_calls,
	elapsed_ms = excluded.elapsed_ms,
	model_calls = excluded.model_calls,
	input_tokens = excluded.input_tokens,
	output_tokens = excluded.output_tokens,
	completed = excluded.completed,
	error = excluded.error`

	_, err = s.rw.ExecContext(ctx, q,
		rec.ID, rec.SessionID, rec.UserID, rec.InteractionIndex, rec.Model,
		rec.UserMessage, rec.UserMessageAt.UTC().Format(time.RFC3339Nano),
		rec.AssistantMessage, assistantAt, string(calls), rec.ElapsedMS, rec.ModelCalls,
		rec.InputTokens, rec.OutputTokens, rec.Completed, rec.Error,
	)
	if err != nil {
		return sgerr.Wrap(err, sgerr.CodeStoreInteractionWriteFailed, "writing interaction",
			sgerr.FieldSessionID(rec.SessionID))
	}
	return nil
}

// Ping checks both handles.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rw.PingContext(ctx); err != nil {
		return err
	}
	return s.ro.PingContext(ctx)
}

// Close closes both handles.
func (s *Store) Close() error {
	return errors.Join(s.ro.Close(), s.rw.Close())
}
