// Package errors provides standardized pipeline errors for patlower.
// Compile diagnostics about user input travel as diagnostics.List instead;
// StandardError covers failures of the pipeline itself (input, config, cache).
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryInput    ErrorCategory = "INPUT"
	CategoryVersion  ErrorCategory = "VERSION"
	CategoryConfig   ErrorCategory = "CONFIG"
	CategoryCache    ErrorCategory = "CACHE"
	CategoryIO       ErrorCategory = "IO"
	CategoryInternal ErrorCategory = "INTERNAL"
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
	Err      error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *StandardError) Unwrap() error { return e.Err }

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller(2),
	}
}

// Wrap attaches a category and code to an underlying error.
func Wrap(err error, category ErrorCategory, code, message string) *StandardError {
	if err == nil {
		return nil
	}
	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Caller:   caller(2),
		Err:      err,
	}
}

// IsCategory reports whether any StandardError in err's chain has category c.
func IsCategory(err error, c ErrorCategory) bool {
	var se *StandardError
	for err != nil {
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Category == c {
			return true
		}
		err = se.Err
	}
	return false
}

func caller(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		return fn.Name()
	}
	return "unknown"
}

// Common error constructors

func InvalidInput(file, detail string) *StandardError {
	return NewStandardError(CategoryInput, "INVALID_INPUT",
		fmt.Sprintf("invalid input %s: %s", file, detail),
		map[string]interface{}{"file": file})
}

func UnsupportedFormat(file, version, constraint string) *StandardError {
	return NewStandardError(CategoryVersion, "UNSUPPORTED_FORMAT",
		fmt.Sprintf("%s: format %s does not satisfy %s", file, version, constraint),
		map[string]interface{}{"file": file, "version": version, "constraint": constraint})
}

func InvalidConfig(field, detail string) *StandardError {
	return NewStandardError(CategoryConfig, "INVALID_CONFIG",
		fmt.Sprintf("config field %s: %s", field, detail),
		map[string]interface{}{"field": field})
}
