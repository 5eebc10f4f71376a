package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorCode string

const (
	CodeInvalidArgument    ErrorCode = "invalid_argument"
	CodeNotFound           ErrorCode = "not_found"
	CodeInvalidTransition  ErrorCode = "invalid_transition"
	CodeUpstreamFailure    ErrorCode = "upstream_failure"
	CodeQuoteExpired       ErrorCode = "quote_expired"
	CodeConflict           ErrorCode = "conflict"
	CodeUnauthenticated    ErrorCode = "unauthenticated"
	CodeFailedPrecondition ErrorCode = "failed_precondition"
	CodeInternal           ErrorCode = "internal"
)

type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]any
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// InvalidArgument is the ValidationError of the engine: the input was rejected
// before any state was touched.
func InvalidArgument(message string) *AppError {
	return &AppError{Code: CodeInvalidArgument, Message: message}
}

// ValidationFailed collects every violation found at a boundary into one error.
func ValidationFailed(violations []string) *AppError {
	return &AppError{
		Code:    CodeInvalidArgument,
		Message: strings.Join(violations, "; "),
		Details: map[string]any{"violations": append([]string(nil), violations...)},
	}
}

func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func RecordNotFound(id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("workflow record %q not found", id)}
}

// InvalidTransition names the destinations that would have been legal.
func InvalidTransition(from, to Stage, allowed []Stage) *AppError {
	names := make([]string, 0, len(allowed))
	for _, stage := range allowed {
		names = append(names, string(stage))
	}
	sort.Strings(names)
	allowedText := "none"
	if len(names) > 0 {
		allowedText = strings.Join(names, ", ")
	}
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot move from %s to %s; allowed: %s", from, to, allowedText),
		Details: map[string]any{
			"from":    string(from),
			"to":      string(to),
			"allowed": names,
		},
	}
}

func UpstreamFailure(message string, cause error) *AppError {
	return &AppError{Code: CodeUpstreamFailure, Message: message, Cause: cause}
}

func QuoteExpired(message string) *AppError {
	return &AppError{Code: CodeQuoteExpired, Message: message}
}

func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message}
}

func Unauthenticated(message string) *AppError {
	return &AppError{Code: CodeUnauthenticated, Message: message}
}

func FailedPrecondition(message string) *AppError {
	return &AppError{Code: CodeFailedPrecondition, Message: message}
}

func Internal(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Cause: cause}
}

func AsAppError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var typed *AppError
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	typed, ok := AsAppError(err)
	return ok && typed.Code == code
}
