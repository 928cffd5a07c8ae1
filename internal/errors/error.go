package errors

import (
	stderrors "errors"
	"fmt"
)

// Category groups error codes by the subsystem that raised them.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryStorage Category = "storage"
	CategoryServer  Category = "server"
	CategoryCLI     Category = "cli"
)

// RelayError is a structured error with a code, explanation and hint.
type RelayError struct {
	// Code is a unique error identifier (e.g., "R100").
	Code string

	// Category is the subsystem that raised the error.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer, instance specific explanation.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *RelayError) Unwrap() error {
	return e.Wrapped
}

// WithSuggestion adds a fix suggestion to the error.
func (e *RelayError) WithSuggestion(s string) *RelayError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *RelayError) WithDetail(d string) *RelayError {
	e.Detail = d
	return e
}

// WithDetailf adds a formatted detail to the error.
func (e *RelayError) WithDetailf(format string, args ...any) *RelayError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *RelayError) Wrap(err error) *RelayError {
	e.Wrapped = err
	return e
}

// New creates a RelayError from a registered error code.
func New(code string) *RelayError {
	template, ok := registry[code]
	if !ok {
		return &RelayError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &RelayError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new RelayError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *RelayError {
	return &RelayError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err in a RelayError with code, unless it already is one.
func FromError(err error, code string) *RelayError {
	if err == nil {
		return nil
	}
	var re *RelayError
	if stderrors.As(err, &re) {
		return re
	}
	return New(code).Wrap(err)
}

// Code returns the code of the first RelayError in err's chain, or "".
func Code(err error) string {
	var re *RelayError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}
