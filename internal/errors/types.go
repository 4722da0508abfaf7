// Package errors defines the structured error taxonomy used across siteroll.
//
// Configuration, I/O and bundling failures are fatal and propagate to the
// host build. Ownership collisions are not errors at all; they are logged as
// warnings by the registry.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// SiterollError is a structured error type with context.
type SiterollError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	Instance string
	FilePath string
}

// Error implements the error interface.
func (e *SiterollError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Instance != "" {
		parts = append(parts, "bundle:"+e.Instance)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SiterollError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *SiterollError) Is(target error) bool {
	var t *SiterollError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *SiterollError) WithContext(key string, value interface{}) *SiterollError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithFile adds file location information.
func (e *SiterollError) WithFile(filePath string) *SiterollError {
	e.FilePath = filePath

	return e
}

// WithInstance records which coordinator instance produced the error.
func (e *SiterollError) WithInstance(instance string) *SiterollError {
	e.Instance = instance

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *SiterollError {
	return &SiterollError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *SiterollError {
	return &SiterollError{
		Type:    ErrorTypeBuild,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *SiterollError {
	return &SiterollError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string, cause error) *SiterollError {
	return &SiterollError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *SiterollError {
	return &SiterollError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsType reports whether any error in err's chain is a SiterollError of type t.
func IsType(err error, t ErrorType) bool {
	var se *SiterollError
	if errors.As(err, &se) {
		return se.Type == t
	}

	return false
}

// IsConfigError checks if an error is configuration-related.
func IsConfigError(err error) bool {
	return IsType(err, ErrorTypeConfig)
}

// IsIOError checks if an error is I/O-related.
func IsIOError(err error) bool {
	return IsType(err, ErrorTypeIO)
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	return IsType(err, ErrorTypeBuild)
}

// Common error codes.
const (
	ErrCodeConfigLoad       = "ERR_CONFIG_LOAD"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeNamingFailed     = "ERR_NAMING_FAILED"
	ErrCodePathResolve      = "ERR_PATH_RESOLVE"
	ErrCodeBundleFailed     = "ERR_BUNDLE_FAILED"
	ErrCodeBundleWrite      = "ERR_BUNDLE_WRITE"
	ErrCodeRenderFailed     = "ERR_RENDER_FAILED"
	ErrCodeInvalidShortcode = "ERR_INVALID_SHORTCODE"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)
