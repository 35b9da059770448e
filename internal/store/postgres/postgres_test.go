// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sgreports-dev/sgreports/internal/store"
	"github.com/sgreports-dev/sgreports/internal/store/postgres"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGrants struct {
	grants []store.TableGrant
	err    error
}

func (f fakeGrants) TableGrants(context.Context) ([]store.TableGrant, error) {
	return f.grants, f.err
}

func TestCheckGrants_Match(t *testing.T) {
	gc := fakeGrants{grants: []store.TableGrant{
		{Schema: "public", Table: "documents", Privilege: "SELECT"},
	}}

	report, err := postgres.CheckGrants(context.Background(), gc, []string{"documents"})
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestCheckGrants_Mismatch(t *testing.T) {
	gc := fakeGrants{grants: []store.TableGrant{
		{Schema: "public", Table: "documents", Privilege: "SELECT"},
		{Schema: "public", Table: "users", Privilege: "SELECT"},
	}}

	report, err := postgres.CheckGrants(context.Background(), gc, []string{"documents", "reports"})
	require.Error(t, err)
	assert.True(t, sgerr.HasCode(err, sgerr.CodeStoreGrantsMismatch))
	assert.Equal(t, []string{"users"}, report.GrantedNotAllowed)
	assert.Equal(t, []string{"reports"}, report.AllowedNotGranted)
}

func TestCheckGrants_ReadError(t *testing.T) {
	gc := fakeGrants{err: errors.New("connection refused")}

	_, err := postgres.CheckGrants(context.Background(), gc, []string{"documents"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestNew_RequiresBothDSNs(t *testing.T) {
	_, err := postgres.New(store.Config{Backend: "postgres", DocumentsDSN: "postgres://localhost/x"})
	require.Error(t, err)
	assert.True(t, sgerr.HasCode(err, sgerr.CodeStoreInvalidInput))
}

// The remaining tests need a live database. Set SGREPORTS_TEST_POSTGRES_DSN
// to a database containing the documents table.
func liveStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("SGREPORTS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SGREPORTS_TEST_POSTGRES_DSN not set")
	}
	s, err := postgres.New(store.Config{DocumentsDSN: dsn, QueryDSN: dsn, StatementTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Live_QueryIsReadOnly(t *testing.T) {
	s := liveStore(t)

	_, err := s.Query(context.Background(), "CREATE TABLE should_not_exist (id int)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestStore_Live_Query(t *testing.T) {
	s := liveStore(t)

	res, err := s.Query(context.Background(), "SELECT 1 AS one, 'x'::text AS two")
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount())
	assert.EqualValues(t, 1, res.Rows[0]["one"])
	assert.Equal(t, "x", res.Rows[0]["two"])
}

func TestStore_Live_StatementTimeout(t *testing.T) {
	dsn := os.Getenv("SGREPORTS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SGREPORTS_TEST_POSTGRES_DSN not set")
	}
	s, err := postgres.New(store.Config{DocumentsDSN: dsn, QueryDSN: dsn, StatementTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Query(context.Background(), "SELECT pg_sleep(2)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement timeout")
}

func TestStore_Live_GetDocumentNotFound(t *testing.T) {
	s := liveStore(t)

	_, err := s.GetDocument(context.Background(), "NO/SUCH/"+uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Live_SaveInteraction(t *testing.T) {
	s := liveStore(t)
	now := time.Now()

	rec := &store.InteractionRecord{
		ID:               uuid.NewString(),
		SessionID:        "test-" + uuid.NewString(),
		InteractionIndex: 0,
		UserMessage:      "hello",
		UserMessageAt:    now,
	}
	require.NoError(t, s.SaveInteraction(context.Background(), rec))

	rec.AssistantMessage = "hi"
	rec.AssistantMessageAt = &now
	rec.Completed = true
	assert.NoError(t, s.SaveInteraction(context.Background(), rec))
}
