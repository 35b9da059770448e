// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package postgres is the production backend. It holds two pools: a
// privileged one for document lookups and interaction writes, and a
// restricted one whose role has SELECT on the allowlisted tables only.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/sgreports-dev/sgreports/internal/store"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// Compile-time interface checks.
var (
	_ store.DocumentReader   = (*Store)(nil)
	_ store.QueryRunner      = (*Store)(nil)
	_ store.InteractionStore = (*Store)(nil)
	_ store.GrantChecker     = (*Store)(nil)
)

func init() {
	store.RegisterBackend("postgres", open)
}

func open(cfg store.Config) (*store.Stores, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewStores(s, s, s, s, s.Ping, s.Close), nil
}

// Store implements the store interfaces on PostgreSQL.
type Store struct {
	privileged *sql.DB
	restricted *sql.DB
	schema     string
	timeout    time.Duration
}

// New opens both pools and ensures the interactions table exists.
func New(cfg store.Config) (*Store, error) {
	if cfg.DocumentsDSN == "" || cfg.QueryDSN == "" {
		return nil, sgerr.New(sgerr.CodeStoreInvalidInput,
			"postgres: documents_dsn and query_dsn are both required")
	}
	if cfg.DocumentsDSN == cfg.QueryDSN {
		slog.Warn("query_dsn equals documents_dsn; model queries will not run under a restricted role")
	}

	privileged, err := openPool(cfg.DocumentsDSN, cfg.MaxOpenConns)
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "opening documents pool")
	}
	restricted, err := openPool(cfg.QueryDSN, cfg.MaxOpenConns)
	if err != nil {
		_ = privileged.Close()
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "opening query pool")
	}

	s := newStore(privileged, restricted, cfg)
	if err := s.migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "migrating interactions table")
	}
	return s, nil
}

func newStore(privileged, restricted *sql.DB, cfg store.Config) *Store {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &Store{
		privileged: privileged,
		restricted: restricted,
		schema:     schema,
		timeout:    cfg.Timeout(),
	}
}

func openPool(dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Store) table(name string) string {
	return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(name)
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.table("chat_interactions") + ` (
	id                   UUID NOT NULL,
	session_id           TEXT NOT NULL,
	user_id              TEXT NOT NULL DEFAULT '',
	interaction_index    INTEGER NOT NULL,
	model                TEXT NOT NULL DEFAULT '',
	user_message         TEXT NOT NULL DEFAULT '',
	user_message_at      TIMESTAMPTZ NOT NULL,
	assistant_message    TEXT NOT NULL DEFAULT '',
	assistant_message_at TIMESTAMPTZ,
	tool_calls           JSONB NOT NULL DEFAULT '[]',
	elapsed_ms           BIGINT NOT NULL DEFAULT 0,
	model_calls          INTEGER NOT NULL DEFAULT 0,
	input_tokens         INTEGER NOT NULL DEFAULT 0,
	output_tokens        INTEGER NOT NULL DEFAULT 0,
	completed            BOOLEAN NOT NULL DEFAULT FALSE,
	error                TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, interaction_index)
)`
	_, err := s.privileged.ExecContext(ctx, ddl)
	return err
}

// GetDocument implements store.DocumentReader.
func (s *Store) GetDocument(ctx context.Context, symbol string) (*store.Document, error) {
	q := `SELECT symbol, COALESCE(proper_title, ''), COALESCE(title, ''), COALESCE(un_body, ''),
	date_year, COALESCE(publication_date::text, ''), subject_terms,
	COALESCE(agenda_item_title, ''), word_count, text
FROM ` + s.table("documents") + ` WHERE symbol = $1 LIMIT 1`

	var (
		doc   store.Document
		year  sql.NullInt64
		words sql.NullInt64
		text  sql.NullString
		terms pq.StringArray
	)
	err := s.privileged.QueryRowContext(ctx, q, symbol).Scan(
		&doc.Symbol, &doc.ProperTitle, &doc.Title, &doc.UNBody, &year, &doc.PublicationDate,
		&terms, &doc.AgendaItemTitle, &words, &text,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", symbol, store.ErrNotFound)
	}
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "querying document", sgerr.FieldSymbol(symbol))
	}

	doc.SubjectTerms = []string(terms)
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

// Query implements store.QueryRunner. The statement runs inside a read-only
// transaction on the restricted pool with a local statement timeout, and the
// transaction is always rolled back.
func (s *Store) Query(ctx context.Context, query string) (*store.QueryResult, error) {
	tx, err := s.restricted.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	timeout := fmt.Sprintf("SET LOCAL statement_timeout = %d", s.timeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, timeout); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "SET LOCAL search_path = "+pq.QuoteIdentifier(s.schema)); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, query)
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

	q := `INSERT INTO ` + s.table("chat_interactions") + ` (
	id, session_id, user_id, interaction_index, model, user_message, user_message_at,
	assistant_message, assistant_message_at, tool_calls, elapsed_ms, model_calls,
	input_tokens, output_tokens, completed, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (session_id, interaction_index) DO UPDATE SET
	id = EXCLUDED.id,
	user_id = EXCLUDED.user_id,
	model = EXCLUDED.model,
	user_message = EXCLUDED.user_message,
	user_message_at = EXCLUDED.user_message_at,
	assistant_message = EXCLUDED.assistant_message,
	assistant_message_at = EXCLUDED.assistant_message_at,
	tool_calls = EXCLUDED.tool_calls,
	elapsed_ms = EXCLUDED.elapsed_ms,
	model_calls = EXCLUDED.model_calls,
	input_tokens = EXCLUDED.input_tokens,
	output_tokens = EXCLUDED.output_tokens,
	completed = EXCLUDED.completed,
	error = EXCLUDED.error`

	_, err = s.privileged.ExecContext(ctx, q,
		rec.ID, rec.SessionID, rec.UserID, rec.InteractionIndex, rec.Model,
		rec.UserMessage, rec.UserMessageAt, rec.AssistantMessage, rec.AssistantMessageAt,
		string(calls), rec.ElapsedMS, rec.ModelCalls, rec.InputTokens, rec.OutputTokens,
		rec.Completed, rec.Error,
	)
	if err != nil {
		return sgerr.Wrap(err, sgerr.CodeStoreInteractionWriteFailed, "writing interaction",
			sgerr.FieldSessionID(rec.SessionID))
	}
	return nil
}

// TableGrants implements store.GrantChecker for the restricted role.
func (s *Store) TableGrants(ctx context.Context) ([]store.TableGrant, error) {
	const q = `SELECT table_schema, table_name, privilege_type
FROM information_schema.role_table_grants
WHERE grantee = current_user AND table_schema = $1
ORDER BY table_name, privilege_type`

	rows, err := s.restricted.QueryContext(ctx, q, s.schema)
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "reading role grants")
	}
	defer func() { _ = rows.Close() }()

	var grants []store.TableGrant
	for rows.Next() {
		var g store.TableGrant
		if err := rows.Scan(&g.Schema, &g.Table, &g.Privilege); err != nil {
			return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "scanning role grants")
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeStoreDatabaseFailure, "reading role grants")
	}
	return grants, nil
}

// CheckGrants compares the restricted role's grants with allowlist.
func CheckGrants(ctx context.Context, gc store.GrantChecker, allowlist []string) (store.GrantReport, error) {
	grants, err := gc.TableGrants(ctx)
	if err != nil {
		return store.GrantReport{}, err
	}
	report := store.CompareGrants(grants, allowlist)
	if !report.OK() {
		return report, sgerr.New(sgerr.CodeStoreGrantsMismatch, report.String())
	}
	return report, nil
}

// Ping checks both pools.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.privileged.PingContext(ctx); err != nil {
		return err
	}
	return s.restricted.PingContext(ctx)
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.restricted.Close(), s.privileged.Close())
}
