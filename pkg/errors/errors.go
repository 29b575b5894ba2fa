// Package errors provides coded, structured errors for the decision pipeline.
//
// Codes follow a dotted component.operation.reason layout so callers can
// branch on the reason (for example "no_eligible_provider") without string
// matching on messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read_failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeHealthProviderNotFound Code = "health.provider.not_found"
	CodeHealthProbeFailure     Code = "health.probe.failure"
	CodeHealthProbeTimeout     Code = "health.probe.timeout"

	CodeSelectionNoEligibleProvider Code = "selection.routing.no_eligible_provider"
	CodeSelectionAgentNotFound      Code = "selection.agent.not_found"
	CodeSelectionAgentInvalid       Code = "selection.agent.invalid"

	CodeCacheSetInvalidValue Code = "cache.set.invalid_value"
	CodeCacheSetTooLarge     Code = "cache.set.too_large"
	CodeCacheCodecFailure    Code = "cache.codec.failure"
	CodeCachePatternInvalid  Code = "cache.pattern.invalid"
	CodeCacheStrategyInvalid Code = "cache.strategy.invalid"
	CodeCacheWarmupFailure   Code = "cache.warmup.failure"

	CodeDegradationLevelNotFound       Code = "degradation.level.not_found"
	CodeDegradationActionFailure       Code = "degradation.action.failure"
	CodeDegradationCacheMiss           Code = "degradation.cache.miss"
	CodeDegradationConcurrencyExceeded Code = "degradation.concurrency.exceeded"

	CodePipelineProcessingFailure Code = "pipeline.processing.failure"
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

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldAgent(value string) Attr {
	return Field("agent", value)
}

func FieldLevel(value string) Attr {
	return Field("level", value)
}

func FieldStrategy(value string) Attr {
	return Field("strategy", value)
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
		code = CodePipelineProcessingFailure
	}
	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

// CodeOf returns the code carried by err, or "" for uncoded errors.
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
	if oopsErr.Code() == nil {
		return ""
	}
	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

// FieldsOf returns the structured context attached to err.
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

// IsNoEligibleProvider reports whether err signals that no agent could serve
// the request. Callers use it to decide between waiting, retrying and rejecting.
func IsNoEligibleProvider(err error) bool {
	return HasCode(err, CodeSelectionNoEligibleProvider)
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// Join combines errs without a code of its own, so that a code applied by a
// wrapping Wrap call is the one CodeOf reports.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// Is and As are re-exported so callers need a single errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

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
