// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := sgerr.New(
		sgerr.CodeConfigValidateInvalidValue,
		"invalid model configuration",
		sgerr.FieldSessionID("sess-123"),
		sgerr.Field("provider", "openai"),
	)

	require.Error(t, err)
	assert.Equal(t, sgerr.CodeConfigValidateInvalidValue, sgerr.CodeOf(err))
	assert.True(t, sgerr.HasCode(err, sgerr.CodeConfigValidateInvalidValue))

	fields := sgerr.FieldsOf(err)
	assert.Equal(t, "sess-123", fields["session_id"])
	assert.Equal(t, "openai", fields["provider"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := sgerr.Errorf(sgerr.CodeStoreDatabaseFailure, "write failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, sgerr.CodeStoreDatabaseFailure, sgerr.CodeOf(err))
	assert.Contains(t, err.Error(), "write failed")
}

// ---------------------------------------------------------------------------
// Wrap / Wrapf / With
// ---------------------------------------------------------------------------

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("no rows")
	err := sgerr.Wrap(root, sgerr.CodeStoreDocumentGetNotFound, "loading document",
		sgerr.FieldSymbol("A/79/1"),
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, sgerr.IsNotFound(err))
	assert.Equal(t, "A/79/1", sgerr.FieldsOf(err)["symbol"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, sgerr.Wrap(nil, sgerr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, sgerr.Wrapf(nil, sgerr.CodeServerInternalFailure, "ignored %s", "arg"))
	assert.NoError(t, sgerr.With(nil, sgerr.FieldTool("x")))
}

func TestWrapfFormatsAndPreservesChain(t *testing.T) {
	root := stderrors.New("timeout")
	err := sgerr.Wrapf(root, sgerr.CodeProviderUpstreamFailure, "calling %s model %s", "azure", "gpt-5")

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "calling azure model gpt-5")
}

func TestWithAddsContextWithoutChangingCode(t *testing.T) {
	base := sgerr.New(sgerr.CodeToolArgumentsInvalid, "missing symbol")
	withCtx := sgerr.With(base, sgerr.FieldTool("read_document"))

	assert.Equal(t, sgerr.CodeToolArgumentsInvalid, sgerr.CodeOf(withCtx))
	assert.Equal(t, "read_document", sgerr.FieldsOf(withCtx)["tool"])
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	enriched := sgerr.With(stderrors.New("something broke"), sgerr.FieldUserID("u-1"))

	assert.Equal(t, sgerr.CodeServerInternalFailure, sgerr.CodeOf(enriched))
	assert.Equal(t, "u-1", sgerr.FieldsOf(enriched)["user_id"])
}

func TestCodeOfReturnsInnermostCodedError(t *testing.T) {
	sentinel := stderrors.New("original")
	mid := fmt.Errorf("mid: %w", sentinel)
	first := sgerr.Wrap(mid, sgerr.CodeStoreDatabaseFailure, "layer 1")
	second := sgerr.Wrap(first, sgerr.CodeServerInternalFailure, "layer 2")

	assert.ErrorIs(t, second, sentinel)
	assert.Equal(t, sgerr.CodeStoreDatabaseFailure, sgerr.CodeOf(second))
	assert.Equal(t, sgerr.Code(""), sgerr.CodeOf(nil))
	assert.Equal(t, sgerr.Code(""), sgerr.CodeOf(sentinel))
	assert.Nil(t, sgerr.FieldsOf(sentinel))
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := sgerr.New(sgerr.CodeStoreDatabaseFailure, "oops",
		sgerr.Field("", "should-be-dropped"),
		sgerr.FieldTool("kept"),
	)
	fields := sgerr.FieldsOf(err)
	assert.Equal(t, "kept", fields["tool"])
	assert.NotContains(t, fields, "")
}

// ---------------------------------------------------------------------------
// Classification helpers
// ---------------------------------------------------------------------------

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   sgerr.Code
		status int
		check  func(error) bool
	}{
		{name: "document not found", code: sgerr.CodeStoreDocumentGetNotFound, status: 404, check: sgerr.IsNotFound},
		{name: "provider not found", code: sgerr.CodeProviderNotFound, status: 404, check: sgerr.IsNotFound},
		{name: "invalid value", code: sgerr.CodeConfigValidateInvalidValue, status: 400, check: sgerr.IsInvalidInput},
		{name: "sql rejected", code: sgerr.CodeSQLValidateRejected, status: 400, check: sgerr.IsInvalidInput},
		{name: "tool args invalid", code: sgerr.CodeToolArgumentsInvalid, status: 400, check: sgerr.IsInvalidInput},
		{name: "unauthorized", code: sgerr.CodeServerAuthUnauthorized, status: 401, check: sgerr.IsUnauthorized},
		{name: "forbidden", code: sgerr.CodeServerAuthForbidden, status: 403, check: sgerr.IsUnauthorized},
		{name: "rate limited", code: sgerr.CodeServerRateLimited, status: 429, check: sgerr.IsRateLimited},
		{name: "upstream failure", code: sgerr.CodeProviderUpstreamFailure, status: 502, check: sgerr.IsUpstreamFailure},
		{name: "provider unavailable", code: sgerr.CodeProviderUnavailable, status: 503, check: func(_ error) bool { return true }},
		{name: "cancelled", code: sgerr.CodeAgentLoopCancelled, status: 500, check: sgerr.IsCancelled},
		{name: "not implemented", code: sgerr.CodeServerNotImplemented, status: 501, check: func(_ error) bool { return true }},
		{name: "internal", code: sgerr.CodeServerInternalFailure, status: 500, check: func(err error) bool { return !sgerr.IsNotFound(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sgerr.New(tt.code, "boom")
			assert.Equal(t, tt.status, sgerr.HTTPStatus(err))
			assert.True(t, tt.check(err))
		})
	}
}

func TestIterationLimitIsDistinctFromUpstreamFailure(t *testing.T) {
	limit := sgerr.New(sgerr.CodeAgentLoopIterationExceeded, "cap reached")
	assert.True(t, sgerr.IsRateLimited(limit))
	assert.False(t, sgerr.IsUpstreamFailure(limit))
}

func TestClassificationOnNilAndPlainError(t *testing.T) {
	for _, err := range []error{nil, stderrors.New("plain")} {
		assert.False(t, sgerr.IsNotFound(err))
		assert.False(t, sgerr.IsInvalidInput(err))
		assert.False(t, sgerr.IsUnauthorized(err))
		assert.False(t, sgerr.IsRateLimited(err))
		assert.False(t, sgerr.IsCancelled(err))
		assert.False(t, sgerr.IsUpstreamFailure(err))
		assert.Equal(t, http.StatusInternalServerError, sgerr.HTTPStatus(err))
	}
}

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	joined := sgerr.Join(a, b)

	require.Error(t, joined)
	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
	assert.Equal(t, sgerr.CodeServerInternalFailure, sgerr.CodeOf(joined))
}
