package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/store"
)

// Code is the error taxonomy surfaced to front-ends.
type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeConflict    Code = "CONFLICT"
	CodeLockedByEnv Code = "LOCKED_BY_ENV"
	CodeInternal    Code = "INTERNAL_ERROR"
)

// Error is returned by every failing Engine operation.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError builds a VALIDATION_ERROR.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError builds a NOT_FOUND error for a resource kind and id.
func NewNotFoundError(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewConflictError builds a CONFLICT error.
func NewConflictError(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// CodeOf maps err onto the front-end taxonomy. nil maps to "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Code
	}

	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, config.ErrLockedByEnv):
		return CodeLockedByEnv
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrConflict):
		return CodeConflict
	case errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, config.ErrInvalidPatch),
		errors.Is(err, config.ErrInvalidConfig),
		errors.As(err, &validationErrs):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// AsError converts err into an *Error, keeping an existing one.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr
	}

	out := &Error{Code: CodeOf(err), Message: err.Error(), Err: err}
	var locked *config.LockedError
	if errors.As(err, &locked) {
		out.Details = map[string]any{"keys": locked.Keys}
	}
	return out
}

// Error type constants for classification
const (
	ErrTypeNetwork    = "network"
	ErrTypeTimeout    = "timeout"
	ErrTypeProvider   = "provider"
	ErrTypeDatabase   = "database"
	ErrTypeValidation = "validation"
	ErrTypeUnknown    = "unknown"
)

// ClassifyError inspects an error and returns its type classification
// for grouping in metrics and trace records.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeConflict, CodeLockedByEnv:
		return ErrTypeValidation
	}

	errStrLower := strings.ToLower(err.Error())

	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(errStrLower, "timeout") || strings.Contains(errStrLower, "deadline exceeded") {
		return ErrTypeTimeout
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return ErrTypeNetwork
	}
	if strings.Contains(errStrLower, "connection refused") ||
		strings.Contains(errStrLower, "connection reset") ||
		strings.Contains(errStrLower, "no such host") ||
		strings.Contains(errStrLower, "network is unreachable") ||
		strings.Contains(errStrLower, "dial tcp") ||
		strings.Contains(errStrLower, "eof") {
		return ErrTypeNetwork
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	if errors.As(err, &apiErr) || errors.As(err, &reqErr) ||
		strings.Contains(errStrLower, "rate limit") ||
		strings.Contains(errStrLower, "embedding") {
		return ErrTypeProvider
	}

	if strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "constraint") ||
		strings.Contains(errStrLower, "unique") && strings.Contains(errStrLower, "failed") {
		return ErrTypeDatabase
	}

	if strings.Contains(errStrLower, "validation") ||
		strings.Contains(errStrLower, "invalid") ||
		strings.Contains(errStrLower, "required") ||
		strings.Contains(errStrLower, "cannot be empty") ||
		strings.Contains(errStrLower, "must be") {
		return ErrTypeValidation
	}

	return ErrTypeUnknown
}
