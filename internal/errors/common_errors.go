package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeSchema marks a missing or mistyped ledger column. Always fatal.
	ErrTypeSchema ErrorType = "SCHEMA"
	// ErrTypeReferenceGap marks a code with no match in a reference table.
	ErrTypeReferenceGap ErrorType = "REFERENCE_GAP"
	// ErrTypeDegenerateGroup marks a group too small or too sparse for a statistic.
	ErrTypeDegenerateGroup ErrorType = "DEGENERATE_GROUP"
	// ErrTypeZeroDivision marks a zero denominator in a derived ratio.
	ErrTypeZeroDivision ErrorType = "ZERO_DIVISION"

	ErrTypeParsing    ErrorType = "PARSING"
	ErrTypeStorage    ErrorType = "STORAGE"
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeNotFound   ErrorType = "NOT_FOUND"
	ErrTypeConfig     ErrorType = "CONFIG"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Fatal reports whether the error must abort a run.
func (e *AppError) Fatal() bool {
	switch e.Type {
	case ErrTypeReferenceGap, ErrTypeDegenerateGroup, ErrTypeZeroDivision:
		return false
	default:
		return true
	}
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewSchemaError creates a fatal ledger schema error
func NewSchemaError(message string, cause error) *AppError {
	return NewAppError(ErrTypeSchema, message, cause)
}

// NewReferenceGapError creates a recoverable reference lookup error
func NewReferenceGapError(table, code string) *AppError {
	return NewAppError(ErrTypeReferenceGap, fmt.Sprintf("no %s entry for code %q", table, code), nil).
		WithContext("table", table).
		WithContext("code", code)
}

// NewDegenerateGroupError creates a warning for a group that cannot support a statistic
func NewDegenerateGroupError(group string, size int) *AppError {
	return NewAppError(ErrTypeDegenerateGroup, fmt.Sprintf("group %s has %d members", group, size), nil).
		WithContext("group", group).
		WithContext("size", size)
}

// NewZeroDivisionError creates a zero-denominator condition
func NewZeroDivisionError(quantity string) *AppError {
	return NewAppError(ErrTypeZeroDivision, fmt.Sprintf("%s is zero", quantity), nil)
}

// NewParsingError creates a parsing-related error
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// IsType reports whether err wraps an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}
