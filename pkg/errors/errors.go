// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreDocumentGetNotFound    Code = "store.document.get.not_found"
	CodeStoreQueryExecuteFailure    Code = "store.query.execute.failure"
	CodeStoreInteractionWriteFailed Code = "store.interaction.write.failure"
	CodeStoreDatabaseFailure        Code = "store.database.failure"
	CodeStoreBackendUnsupported     Code = "store.backend.unsupported"
	CodeStoreInvalidInput           Code = "store.invalid_input"
	CodeStoreGrantsMismatch         Code = "store.grants.mismatch"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeSQLValidateRejected Code = "sql.validate.rejected"

	CodeToolDispatchNotFound  Code = "tool.dispatch.not_found"
	CodeToolArgumentsInvalid  Code = "tool.arguments.invalid"
	CodeToolExecuteFailure    Code = "tool.execute.failure"
	CodeToolSchemaInvalid     Code = "tool.schema.invalid"
	CodeToolResultEncodeError Code = "tool.result.encode.failure"

	CodeProviderRequestInvalid   Code = "provider.request.invalid"
	CodeProviderResponseInvalid  Code = "provider.response.invalid"
	CodeProviderUpstreamFailure  Code = "provider.upstream.failure"
	CodeProviderNotFound         Code = "provider.registry.not_found"
	CodeProviderUnavailable      Code = "provider.routing.unavailable"
	CodeProviderNoDefault        Code = "provider.routing.no_default"
	CodeProviderInvalidModelRef  Code = "provider.routing.invalid_model_ref"
	CodeProviderStreamIncomplete Code = "provider.stream.incomplete"

	CodeAgentLoopInvalidInput      Code = "agent.loop.invalid_input"
	CodeAgentLoopFailure           Code = "agent.loop.failure"
	CodeAgentLoopIterationExceeded Code = "agent.loop.iteration_limit_exceeded"
	CodeAgentLoopCancelled         Code = "agent.loop.cancelled"
	CodeAgentEmitterClosed         Code = "agent.emitter.closed"

	CodeAuditWriteFailure Code = "audit.write.failure"

	CodeSecretResolveFailure Code = "secret.resolve.failure"
	CodeSecretRefInvalid     Code = "secret.ref.invalid"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerAuthForbidden    Code = "server.auth.forbidden"
	CodeServerRateLimited      Code = "server.rate.exceeded"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerConfigInvalid    Code = "server.config.invalid"
	CodeServerStartFailure     Code = "server.start.failure"
	CodeServerShutdownFailure  Code = "server.shutdown.failure"
	CodeServerNotImplemented   Code = "server.method.not_implemented"

	CodeCLIServerNotRunning Code = "cli.server.not_running"
	CodeCLIRequestFailure   Code = "cli.request.failure"
	CodeCLIResponseInvalid  Code = "cli.response.invalid"
	CodeCLISetupFailure     Code = "cli.setup.failure"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// FieldValue creates a structured error field.
func FieldValue(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// Field is kept as the primary helper for terse callsites.
func Field(key string, value any) Attr {
	return FieldValue(key, value)
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldUserID(value string) Attr {
	return Field("user_id", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldSymbol(value string) Attr {
	return Field("symbol", value)
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

// With adds structured fields to an existing error chain.
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

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
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

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format" || r == "rejected"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden" || r == "denied"
}

func IsRateLimited(err error) bool {
	r := reason(CodeOf(err))
	return r == "exceeded" || r == "iteration_limit_exceeded"
}

func IsCancelled(err error) bool {
	return reason(CodeOf(err)) == "cancelled"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case HasCode(err, CodeServerNotImplemented):
		return http.StatusNotImplemented
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		if reason(CodeOf(err)) == "forbidden" || reason(CodeOf(err)) == "denied" {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case HasCode(err, CodeServerRateLimited):
		return http.StatusTooManyRequests
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	case HasCode(err, CodeProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
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
