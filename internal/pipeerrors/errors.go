package pipeerrors

import (
	"errors"
	"fmt"
)

// PipelineError represents errors that occur during a conversion run
type PipelineError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ErrorType represents different categories of pipeline errors
type ErrorType string

const (
	ErrorTypeInvalidOption     ErrorType = "INVALID_OPTION"
	ErrorTypeMissingArgument   ErrorType = "MISSING_ARGUMENT"
	ErrorTypeMissingDependency ErrorType = "MISSING_DEPENDENCY"
	ErrorTypeSourceNotFound    ErrorType = "SOURCE_NOT_FOUND"
	ErrorTypeWorkspace         ErrorType = "WORKSPACE_ERROR"
	ErrorTypeImport            ErrorType = "IMPORT_ERROR"
	ErrorTypeExport            ErrorType = "EXPORT_ERROR"
	ErrorTypeSanitization      ErrorType = "SANITIZATION_ERROR"
	ErrorTypePackage           ErrorType = "PACKAGE_ERROR"
	ErrorTypePublish           ErrorType = "PUBLISH_ERROR"
)

// Process exit codes, one per error category. Scheduling and monitoring
// tooling distinguishes failure classes by these values, so they are stable.
const (
	ExitOK                = 0
	ExitUnknown           = 1
	ExitInvalidOption     = 2
	ExitMissingArgument   = 3
	ExitMissingDependency = 4
	ExitSourceNotFound    = 5
	ExitWorkspace         = 6
	ExitImport            = 7
	ExitExport            = 8
	ExitSanitization      = 9
	ExitPackage           = 10
	ExitPublish           = 11
)

var exitCodes = map[ErrorType]int{
	ErrorTypeInvalidOption:     ExitInvalidOption,
	ErrorTypeMissingArgument:   ExitMissingArgument,
	ErrorTypeMissingDependency: ExitMissingDependency,
	ErrorTypeSourceNotFound:    ExitSourceNotFound,
	ErrorTypeWorkspace:         ExitWorkspace,
	ErrorTypeImport:            ExitImport,
	ErrorTypeExport:            ExitExport,
	ErrorTypeSanitization:      ExitSanitization,
	ErrorTypePackage:           ExitPackage,
	ErrorTypePublish:           ExitPublish,
}

// ExitCode maps an error to its process exit code. Nil maps to ExitOK,
// errors outside the taxonomy to ExitUnknown.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		if code, ok := exitCodes[pipeErr.Type]; ok {
			return code
		}
	}
	return ExitUnknown
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Type
	}
	return ""
}

// New creates a new PipelineError
func New(errorType ErrorType, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors
func NewInvalidOptionError(message string, cause error) *PipelineError {
	return New(ErrorTypeInvalidOption, message, cause)
}

func NewMissingArgumentError(message string, cause error) *PipelineError {
	return New(ErrorTypeMissingArgument, message, cause)
}

func NewMissingDependencyError(message string, cause error) *PipelineError {
	return New(ErrorTypeMissingDependency, message, cause)
}

func NewSourceNotFoundError(message string, cause error) *PipelineError {
	return New(ErrorTypeSourceNotFound, message, cause)
}

func NewWorkspaceError(message string, cause error) *PipelineError {
	return New(ErrorTypeWorkspace, message, cause)
}

func NewImportError(message string, cause error) *PipelineError {
	return New(ErrorTypeImport, message, cause)
}

func NewExportError(message string, cause error) *PipelineError {
	return New(ErrorTypeExport, message, cause)
}

func NewSanitizationError(message string, cause error) *PipelineError {
	return New(ErrorTypeSanitization, message, cause)
}

func NewPackageError(message string, cause error) *PipelineError {
	return New(ErrorTypePackage, message, cause)
}

func NewPublishError(message string, cause error) *PipelineError {
	return New(ErrorTypePublish, message, cause)
}

// ValidationError represents a single configuration validation failure
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
