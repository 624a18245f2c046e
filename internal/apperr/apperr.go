// Package apperr — таксономия ошибок движка посещаемости.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeConflict         Code = "CONFLICT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyCompleted Code = "ALREADY_COMPLETED"
	CodeUnavailable      Code = "STORE_UNAVAILABLE"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeInternal         Code = "INTERNAL"
)

// FieldError — ошибка конкретного поля запроса.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type Error struct {
	Code     Code           `json:"code"`
	Message  string         `json:"message"`
	Fields   []FieldError   `json:"fields,omitempty"`
	Conflict map[string]any `json:"conflict,omitempty"` // идентичность конфликтующей записи
	Err      error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable — вызывающий может повторить запрос позже.
func (e *Error) Retryable() bool { return e.Code == CodeUnavailable }

func Validation(msg string, fields ...FieldError) *Error {
	return &Error{Code: CodeInvalidArgument, Message: msg, Fields: fields}
}

func Field(field, msg string) FieldError { return FieldError{Field: field, Error: msg} }

func Conflict(msg string, existing map[string]any) *Error {
	return &Error{Code: CodeConflict, Message: msg, Conflict: existing}
}

func NotFound(msg string) *Error { return &Error{Code: CodeNotFound, Message: msg} }

func AlreadyCompleted(msg string) *Error {
	return &Error{Code: CodeAlreadyCompleted, Message: msg}
}

func Unauthenticated() *Error {
	return &Error{Code: CodeUnauthenticated, Message: "actor not authenticated"}
}

func Unavailable(err error) *Error {
	return &Error{Code: CodeUnavailable, Message: "store unavailable", Err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// CodeOf — код ошибки; для чужих ошибок CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool { return err != nil && CodeOf(err) == code }

func IsConflict(err error) bool         { return IsCode(err, CodeConflict) }
func IsNotFound(err error) bool         { return IsCode(err, CodeNotFound) }
func IsAlreadyCompleted(err error) bool { return IsCode(err, CodeAlreadyCompleted) }
func IsValidation(err error) bool       { return IsCode(err, CodeInvalidArgument) }
func IsUnavailable(err error) bool      { return IsCode(err, CodeUnavailable) }

// IntegrityWarning — нефатальное нарушение целостности данных.
// Запрос не валим: пишем в лог, метрики и sentry.
type IntegrityWarning struct {
	Subject string
	Detail  string
	IDs     []int64
}

func (w IntegrityWarning) String() string {
	return fmt.Sprintf("integrity warning: %s: %s %v", w.Subject, w.Detail, w.IDs)
}
