// Package apperror provides the normalized error surface of the mock server:
// canonical RPC status codes, structured field violations, and conversion to
// both gRPC status errors and Connect errors.
package apperror

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is a canonical RPC status string.
type Code string

const (
	CodeOK                 Code = "OK"
	CodeCancelled          Code = "CANCELLED"
	CodeUnknown            Code = "UNKNOWN"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeDeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeAborted            Code = "ABORTED"
	CodeOutOfRange         Code = "OUT_OF_RANGE"
	CodeUnimplemented      Code = "UNIMPLEMENTED"
	CodeInternal           Code = "INTERNAL"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeDataLoss           Code = "DATA_LOSS"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
)

// numericCodes маппинг числовых grpc-status значений на канонические строки
var numericCodes = map[int]Code{
	0:  CodeOK,
	1:  CodeCancelled,
	2:  CodeUnknown,
	3:  CodeInvalidArgument,
	4:  CodeDeadlineExceeded,
	5:  CodeNotFound,
	6:  CodeAlreadyExists,
	7:  CodePermissionDenied,
	8:  CodeResourceExhausted,
	9:  CodeFailedPrecondition,
	10: CodeAborted,
	11: CodeOutOfRange,
	12: CodeUnimplemented,
	13: CodeInternal,
	14: CodeUnavailable,
	15: CodeDataLoss,
	16: CodeUnauthenticated,
}

var grpcCodes = map[Code]codes.Code{
	CodeOK:                 codes.OK,
	CodeCancelled:          codes.Canceled,
	CodeUnknown:            codes.Unknown,
	CodeInvalidArgument:    codes.InvalidArgument,
	CodeDeadlineExceeded:   codes.DeadlineExceeded,
	CodeNotFound:           codes.NotFound,
	CodeAlreadyExists:      codes.AlreadyExists,
	CodePermissionDenied:   codes.PermissionDenied,
	CodeResourceExhausted:  codes.ResourceExhausted,
	CodeFailedPrecondition: codes.FailedPrecondition,
	CodeAborted:            codes.Aborted,
	CodeOutOfRange:         codes.OutOfRange,
	CodeUnimplemented:      codes.Unimplemented,
	CodeInternal:           codes.Internal,
	CodeUnavailable:        codes.Unavailable,
	CodeDataLoss:           codes.DataLoss,
	CodeUnauthenticated:    codes.Unauthenticated,
}

var connectCodes = map[Code]connect.Code{
	CodeCancelled:          connect.CodeCanceled,
	CodeUnknown:            connect.CodeUnknown,
	CodeInvalidArgument:    connect.CodeInvalidArgument,
	CodeDeadlineExceeded:   connect.CodeDeadlineExceeded,
	CodeNotFound:           connect.CodeNotFound,
	CodeAlreadyExists:      connect.CodeAlreadyExists,
	CodePermissionDenied:   connect.CodePermissionDenied,
	CodeResourceExhausted:  connect.CodeResourceExhausted,
	CodeFailedPrecondition: connect.CodeFailedPrecondition,
	CodeAborted:            connect.CodeAborted,
	CodeOutOfRange:         connect.CodeOutOfRange,
	CodeUnimplemented:      connect.CodeUnimplemented,
	CodeInternal:           connect.CodeInternal,
	CodeUnavailable:        connect.CodeUnavailable,
	CodeDataLoss:           connect.CodeDataLoss,
	CodeUnauthenticated:    connect.CodeUnauthenticated,
}

// FromGRPCNumber переводит числовой grpc-status в канонический код.
// Неизвестные значения дают UNKNOWN.
func FromGRPCNumber(n int) Code {
	if c, ok := numericCodes[n]; ok {
		return c
	}
	return CodeUnknown
}

// ParseCode принимает либо числовой grpc-status, либо каноническую строку
func ParseCode(s string) Code {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return FromGRPCNumber(n)
	}
	c := Code(strings.ToUpper(s))
	if _, ok := grpcCodes[c]; ok {
		return c
	}
	return CodeUnknown
}

// GRPCCode возвращает grpc codes.Code для канонического кода
func (c Code) GRPCCode() codes.Code {
	if g, ok := grpcCodes[c]; ok {
		return g
	}
	return codes.Unknown
}

// ConnectCode возвращает connect.Code для канонического кода.
// OK не имеет connect-представления; вызывающий не должен строить ошибку из OK.
func (c Code) ConnectCode() connect.Code {
	if cc, ok := connectCodes[c]; ok {
		return cc
	}
	return connect.CodeUnknown
}

// FieldViolation описывает одно нарушение ограничения поля
type FieldViolation struct {
	Field        string `json:"field" yaml:"field"`
	ConstraintID string `json:"constraint_id,omitempty" yaml:"constraint_id,omitempty"`
	Message      string `json:"message" yaml:"message"`
	Value        any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Error - нормализованная ошибка RPC
type Error struct {
	Code       Code
	Message    string
	Violations []FieldViolation
	Meta       map[string]string // трейлеры, сопровождающие ошибку
	Cause      error
}

// New создаёт ошибку с кодом и сообщением
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf создаёт ошибку с форматированным сообщением
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает причину в нормализованную ошибку
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithViolations прикрепляет нарушения полей
func (e *Error) WithViolations(v []FieldViolation) *Error {
	e.Violations = v
	return e
}

func (e *Error) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("[%s] %s (%d field violations)", e.Code, e.Message, len(e.Violations))
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// GRPCStatus конвертирует ошибку в grpc status с errdetails.BadRequest
func (e *Error) GRPCStatus() *status.Status {
	st := status.New(e.Code.GRPCCode(), e.Message)
	if len(e.Violations) == 0 {
		return st
	}

	br := &errdetails.BadRequest{}
	for _, v := range e.Violations {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       v.Field,
			Description: v.Message,
			Reason:      v.ConstraintID,
		})
	}
	withDetails, err := st.WithDetails(br)
	if err != nil {
		return st
	}
	return withDetails
}

// ConnectError конвертирует ошибку в connect.Error
func (e *Error) ConnectError() *connect.Error {
	cerr := connect.NewError(e.Code.ConnectCode(), errors.New(e.Message))
	for k, v := range e.Meta {
		cerr.Meta().Set(k, v)
	}
	if len(e.Violations) > 0 {
		br := &errdetails.BadRequest{}
		for _, v := range e.Violations {
			br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
				Field:       v.Field,
				Description: v.Message,
				Reason:      v.ConstraintID,
			})
		}
		if detail, derr := connect.NewErrorDetail(br); derr == nil {
			cerr.AddDetail(detail)
		}
	}
	return cerr
}

// DetailMaps возвращает детали в JSON-представлении нормализованной ошибки
func (e *Error) DetailMaps() []map[string]any {
	if len(e.Violations) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(e.Violations))
	for _, v := range e.Violations {
		d := map[string]any{
			"@type":   "buf.validate.FieldViolation",
			"field":   v.Field,
			"message": v.Message,
		}
		if v.ConstraintID != "" {
			d["constraint_id"] = v.ConstraintID
		}
		if v.Value != nil {
			d["value"] = v.Value
		}
		out = append(out, d)
	}
	return out
}

// AsError извлекает *Error из err, если она там есть
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
