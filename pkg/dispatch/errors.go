package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"protomock/pkg/apperror"
	"protomock/pkg/schema"
)

// nestedViolations форма вложенной JSON-сводки нарушений, которую могут
// нести произвольные ошибки нижних слоёв
type nestedViolations struct {
	Reason          string `json:"reason"`
	FieldViolations []struct {
		Field        string `json:"field"`
		ConstraintID string `json:"constraint_id"`
		Message      string `json:"message"`
		Value        any    `json:"value,omitempty"`
	} `json:"field_violations"`
}

// MapGenericError переводит произвольную ошибку в нормализованную.
// Вложенные JSON-сводки нарушений разворачиваются в INVALID_ARGUMENT
// со структурированными деталями; nil даёт UNKNOWN.
func MapGenericError(err error) *apperror.Error {
	if err == nil {
		return apperror.New(apperror.CodeUnknown, "unknown error")
	}
	if appErr, ok := apperror.AsError(err); ok {
		return appErr
	}
	if errors.Is(err, context.Canceled) {
		return apperror.New(apperror.CodeCancelled, "call cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.New(apperror.CodeDeadlineExceeded, "deadline exceeded")
	}

	if nested, ok := unwrapViolationSummary(err.Error()); ok {
		violations := make([]apperror.FieldViolation, 0, len(nested.FieldViolations))
		for _, v := range nested.FieldViolations {
			violations = append(violations, apperror.FieldViolation{
				Field:        v.Field,
				ConstraintID: v.ConstraintID,
				Message:      v.Message,
				Value:        v.Value,
			})
		}
		return apperror.New(apperror.CodeInvalidArgument, "validation failed").WithViolations(violations)
	}

	return apperror.Wrap(apperror.CodeInternal, err.Error(), err)
}

// unwrapViolationSummary ищет в тексте ошибки JSON-объект вида
// {"reason":"validation_failed","field_violations":[...]}
func unwrapViolationSummary(msg string) (*nestedViolations, bool) {
	start := strings.Index(msg, "{")
	if start < 0 {
		return nil, false
	}
	var nested nestedViolations
	if err := json.Unmarshal([]byte(msg[start:]), &nested); err != nil {
		return nil, false
	}
	if nested.Reason != "validation_failed" || len(nested.FieldViolations) == 0 {
		return nil, false
	}
	return &nested, true
}

// MapStreamError переводит ошибку стриминга, помечая её формой вызова
func MapStreamError(kind schema.StreamKind, ctx context.Context, err error) *apperror.Error {
	if err == nil {
		return apperror.Newf(apperror.CodeUnknown, "%s: unknown error", kind)
	}
	if appErr, ok := apperror.AsError(err); ok {
		return appErr
	}
	if errors.Is(err, context.Canceled) || (ctx != nil && ctx.Err() == context.Canceled) {
		return apperror.Newf(apperror.CodeCancelled, "%s cancelled", kind)
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && ctx.Err() == context.DeadlineExceeded) {
		return apperror.Newf(apperror.CodeDeadlineExceeded, "%s deadline exceeded", kind)
	}
	return apperror.Newf(apperror.CodeInternal, "%s failed: %v", kind, err)
}

// trailerError строит нормализованную ошибку из трейлеров правила.
// Числовой grpc-status переводится в канонический код, строковый
// принимается как есть; grpc-message становится сообщением.
// Прочие трейлеры сопровождают ошибку как метаданные.
func trailerError(trailers map[string]string) *apperror.Error {
	statusValue, ok := trailers["grpc-status"]
	if !ok {
		return nil
	}
	code := apperror.ParseCode(statusValue)
	if code == apperror.CodeOK {
		return nil
	}

	message := trailers["grpc-message"]
	if message == "" {
		message = fmt.Sprintf("rule returned status %s", code)
	}

	appErr := apperror.New(code, message)
	for k, v := range trailers {
		if k == "grpc-status" || k == "grpc-message" {
			continue
		}
		if appErr.Meta == nil {
			appErr.Meta = map[string]string{}
		}
		appErr.Meta[k] = v
	}
	return appErr
}

// restTrailers возвращает трейлеры без служебных grpc-status/grpc-message
func restTrailers(trailers map[string]string) map[string]string {
	var out map[string]string
	for k, v := range trailers {
		if k == "grpc-status" || k == "grpc-message" {
			continue
		}
		if out == nil {
			out = map[string]string{}
		}
		out[k] = v
	}
	return out
}
