package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies failures across the configuration pipeline
type ErrorCategory string

const (
	// Fatal categories that stop the pipeline before any mutation
	ErrorCategoryParse        ErrorCategory = "PARSE"
	ErrorCategoryValidation   ErrorCategory = "VALIDATION"
	ErrorCategoryPrecondition ErrorCategory = "PRECONDITION"

	// Failures from the mutating half of the pipeline; these trigger rollback
	ErrorCategoryIO          ErrorCategory = "IO"
	ErrorCategoryRestart     ErrorCategory = "RESTART"
	ErrorCategoryHealthCheck ErrorCategory = "HEALTH_CHECK"

	// Coordination failures
	ErrorCategoryConcurrentApply ErrorCategory = "CONCURRENT_APPLY"
	ErrorCategoryNotFound        ErrorCategory = "NOT_FOUND"
)

// ConfigError is a categorized error with pipeline context
type ConfigError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s failed: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s failed: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// IsFatal reports whether the error means the document or the request needs
// fixing, as opposed to the system failing. Nothing is mutated yet when a
// fatal error can occur.
func (e *ConfigError) IsFatal() bool {
	switch e.Category {
	case ErrorCategoryParse, ErrorCategoryValidation, ErrorCategoryPrecondition, ErrorCategoryConcurrentApply:
		return true
	}
	return false
}

// NewConfigError creates a new categorized error
func NewConfigError(category ErrorCategory, component, operation, message string) *ConfigError {
	return &ConfigError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
	}
}

// WrapError wraps an existing error with pipeline context
func WrapError(err error, category ErrorCategory, component, operation string) *ConfigError {
	if err == nil {
		return nil
	}
	return &ConfigError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
	}
}

// HasCategory reports whether err (or anything it wraps) carries the category.
func HasCategory(err error, category ErrorCategory) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Category == category
	}
	return false
}

// Common error constructors

func NewParseError(component string, err error) *ConfigError {
	return WrapError(err, ErrorCategoryParse, component, "parse")
}

func NewIOError(component, operation string, err error) *ConfigError {
	return WrapError(err, ErrorCategoryIO, component, operation)
}

func NewPreconditionError(component, operation, message string) *ConfigError {
	return NewConfigError(ErrorCategoryPrecondition, component, operation, message)
}

func NewRestartError(service string, err error) *ConfigError {
	return WrapError(err, ErrorCategoryRestart, service, "restart")
}

func NewHealthCheckTimeout(component string, err error) *ConfigError {
	return WrapError(err, ErrorCategoryHealthCheck, component, "verify")
}

func NewConcurrentApplyError(component string) *ConfigError {
	return NewConfigError(ErrorCategoryConcurrentApply, component, "apply", "another apply is already in flight")
}

func NewNotFoundError(component, operation, message string) *ConfigError {
	return NewConfigError(ErrorCategoryNotFound, component, operation, message)
}
