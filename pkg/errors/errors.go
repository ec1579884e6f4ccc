// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error. Codes are dotted
// paths; the last segment is the reason used to derive an HTTP status.
type Code string

const (
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreNotFound           Code = "store.record.not_found"
	CodeStoreConflict           Code = "store.record.conflict"
	CodeStoreInvalidInput       Code = "store.record.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeRateLimitExceeded     Code = "ratelimit.check.exceeded"
	CodeRateLimitInvalidInput Code = "ratelimit.check.invalid_input"
	CodeRateLimitStoreFailure Code = "ratelimit.store.failure"

	CodeClassifierPolicyInvalid Code = "classifier.policy.invalid_value"

	CodeChatRequestInvalid Code = "chat.request.invalid_input"
	CodeChatInputEmpty     Code = "chat.input.empty.invalid_input"

	CodeAccountNotFound       Code = "account.get.not_found"
	CodeAccountLookupFailure  Code = "account.get.failure"
	CodePromptRenderFailure   Code = "prompt.render.failure"
	CodePromptTemplateInvalid Code = "prompt.template.invalid"

	CodeToolNotFound          Code = "tool.registry.not_found"
	CodeToolDuplicate         Code = "tool.registry.conflict"
	CodeToolInputInvalid      Code = "tool.input.invalid_input"
	CodeToolSchemaInvalid     Code = "tool.schema.invalid"
	CodeToolNotConfigured     Code = "tool.integration.not_configured"
	CodeToolExecutionFailure  Code = "tool.execute.failure"
	CodeToolTimeout           Code = "tool.execute.timeout"
	CodeIntegrationUpstream   Code = "integration.upstream.failure"
	CodeIntegrationBadRequest Code = "integration.request.invalid"

	CodeApprovalNotFound   Code = "approval.get.not_found"
	CodeApprovalConflict   Code = "approval.resolve.conflict"
	CodeApprovalForbidden  Code = "approval.resolve.forbidden"
	CodeApprovalInvalid    Code = "approval.open.invalid_input"
	CodeApprovalStoreError Code = "approval.store.failure"

	CodeAgentLoopInvalidInput   Code = "agent.loop.invalid_input"
	CodeAgentLoopFailure        Code = "agent.loop.failure"
	CodeAgentToolsExhausted     Code = "agent.loop.tools_exhausted.failure"
	CodeAgentModelStreamFailure Code = "agent.model.stream.failure"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderAllUnavailable  Code = "provider.routing.all_unavailable"
	CodeProviderNoDefault       Code = "provider.routing.no_default"
	CodeProviderInvalidModelRef Code = "provider.routing.invalid_model_ref"
	CodeProviderKeyInvalid      Code = "provider.key.unauthorized"
	CodeProviderKeyCheckFailed  Code = "provider.key.check.failure"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerConfigInvalid    Code = "server.config.invalid"
	CodeServerStartFailure     Code = "server.start.failure"
	CodeServerShutdownFailure  Code = "server.shutdown.failure"

	CodeAuthUnauthorized  Code = "auth.credential.unauthorized"
	CodeAuthConfigInvalid Code = "auth.config.invalid"

	CodeSecretInvalidInput   Code = "secret.input.invalid_input"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretListFailure    Code = "secret.list.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldConversationID(value string) Attr {
	return Field("conversation_id", value)
}

func FieldToolCallID(value string) Attr {
	return Field("tool_call_id", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func FieldAccountID(value string) Attr {
	return Field("account_id", value)
}

func FieldActor(value string) Attr {
	return Field("actor", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, keeping its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}
	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

// CodeOf returns the innermost code in err's chain. Wrapping a coded error
// does not change its code; build a fresh error to reclassify.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden"
}

func IsRateLimited(err error) bool {
	return reason(CodeOf(err)) == "exceeded"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// HTTPStatus maps an error to the status the HTTP surface should return.
// Errors without a recognised reason map to 500.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		if reason(CodeOf(err)) == "forbidden" {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case IsRateLimited(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
