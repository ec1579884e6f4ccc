// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := dderr.New(
		dderr.CodeApprovalConflict,
		"approval already resolved",
		dderr.FieldToolCallID("call-1"),
		dderr.FieldActor("user-7"),
	)

	require.Error(t, err)
	assert.Equal(t, dderr.CodeApprovalConflict, dderr.CodeOf(err))
	assert.True(t, dderr.HasCode(err, dderr.CodeApprovalConflict))

	fields := dderr.FieldsOf(err)
	assert.Equal(t, "call-1", fields["tool_call_id"])
	assert.Equal(t, "user-7", fields["actor"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := dderr.Errorf(dderr.CodeStoreDatabaseFailure, "append audit event: %w", inner)

	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, dderr.CodeStoreDatabaseFailure, dderr.CodeOf(err))
	assert.Contains(t, err.Error(), "append audit event")
}

func TestWrapPreservesChainAndFields(t *testing.T) {
	root := stderrors.New("no rows")
	err := dderr.Wrap(root, dderr.CodeAccountNotFound, "loading account", dderr.FieldAccountID("acct-9"))

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, dderr.IsNotFound(err))
	assert.Equal(t, "acct-9", dderr.FieldsOf(err)["account_id"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, dderr.Wrap(nil, dderr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, dderr.Wrapf(nil, dderr.CodeServerInternalFailure, "ignored %s", "arg"))
	assert.NoError(t, dderr.With(nil, dderr.FieldTool("x")))
}

func TestWithKeepsCode(t *testing.T) {
	base := dderr.New(dderr.CodeToolInputInvalid, "bad input")
	err := dderr.With(base, dderr.FieldTool("send_email"))

	assert.Equal(t, dderr.CodeToolInputInvalid, dderr.CodeOf(err))
	assert.Equal(t, "send_email", dderr.FieldsOf(err)["tool"])
}

func TestWithPlainErrorDefaultsToInternal(t *testing.T) {
	err := dderr.With(stderrors.New("boom"), dderr.Field("k", "v"))
	assert.Equal(t, dderr.CodeServerInternalFailure, dderr.CodeOf(err))
}

func TestCodeOfReturnsInnermostCode(t *testing.T) {
	inner := dderr.New(dderr.CodeStoreNotFound, "no row")
	outer := dderr.Wrap(inner, dderr.CodeServerInternalFailure, "handler")

	assert.Equal(t, dderr.CodeStoreNotFound, dderr.CodeOf(outer))
	assert.Equal(t, http.StatusNotFound, dderr.HTTPStatus(outer))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, dderr.Code(""), dderr.CodeOf(stderrors.New("plain")))
	assert.Equal(t, dderr.Code(""), dderr.CodeOf(nil))
	assert.Nil(t, dderr.FieldsOf(stderrors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", dderr.New(dderr.CodeServerAuthUnauthorized, "x"), http.StatusUnauthorized},
		{"forbidden", dderr.New(dderr.CodeApprovalForbidden, "x"), http.StatusForbidden},
		{"rate limited", dderr.New(dderr.CodeRateLimitExceeded, "x"), http.StatusTooManyRequests},
		{"malformed body", dderr.New(dderr.CodeChatRequestInvalid, "x"), http.StatusBadRequest},
		{"empty after filtering", dderr.New(dderr.CodeChatInputEmpty, "x"), http.StatusBadRequest},
		{"unknown account", dderr.New(dderr.CodeAccountNotFound, "x"), http.StatusNotFound},
		{"conflict", dderr.New(dderr.CodeApprovalConflict, "x"), http.StatusConflict},
		{"timeout", dderr.New(dderr.CodeToolTimeout, "x"), http.StatusGatewayTimeout},
		{"upstream", dderr.New(dderr.CodeProviderUpstreamFailure, "x"), http.StatusBadGateway},
		{"tools exhausted", dderr.New(dderr.CodeAgentToolsExhausted, "x"), http.StatusInternalServerError},
		{"plain", stderrors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dderr.HTTPStatus(tt.err))
		})
	}
}

func TestJoin(t *testing.T) {
	assert.NoError(t, dderr.Join())

	a, b := stderrors.New("a"), stderrors.New("b")
	err := dderr.Join(a, nil, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)
	assert.Equal(t, dderr.CodeServerInternalFailure, dderr.CodeOf(err))
}
